package store

// idField holds the identifier field name of a built-in driver.
type idField struct {
	pattern string
}

func (f *idField) IDPattern() string { return f.pattern }

func (f *idField) setIDPattern(pattern string) { f.pattern = pattern }

// WithIDPattern overrides the identifier field of conn. Built-in drivers
// are reconfigured in place so that they also key their records on the
// new field; any other Connection is wrapped so that only IDPattern
// reports the override.
func WithIDPattern(conn Connection, pattern string) Connection {
	if pattern == "" {
		return conn
	}
	if s, ok := conn.(interface{ setIDPattern(string) }); ok {
		s.setIDPattern(pattern)
		return conn
	}
	return &idPatternConn{Connection: conn, pattern: pattern}
}

type idPatternConn struct {
	Connection
	pattern string
}

func (c *idPatternConn) IDPattern() string { return c.pattern }
