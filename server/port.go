package server

// ServerPort supplies the port a server binds to.
type ServerPort interface {
	Port() int
}

// Port is a fixed port.
type Port int

func (p Port) Port() int { return int(p) }

// AnyPort lets the operating system pick a free port. The bound port is read back
// from the listener.
func AnyPort() ServerPort { return Port(0) }
