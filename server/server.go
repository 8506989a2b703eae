package server

// RPCServer is the server facade: a ServerConnection bound to a ServerPort.
type RPCServer struct {
	conn ServerConnection
	port ServerPort
}

func NewRPCServer(conn ServerConnection, port ServerPort) *RPCServer {
	return &RPCServer{conn: conn, port: port}
}

// Bind starts the server. It returns once the listener is accepting.
func (s *RPCServer) Bind() error {
	return s.conn.Bind(s.port)
}

func (s *RPCServer) IsActive() bool {
	return s.conn.IsActive()
}

// Port returns the bound port, which differs from the configured one for AnyPort.
func (s *RPCServer) Port() int {
	return s.conn.Port()
}

func (s *RPCServer) Close() error {
	return s.conn.Close()
}
