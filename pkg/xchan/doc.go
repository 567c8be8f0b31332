package xchan

// A distributed deployment would implement Port over a net.Conn: a
// 4-byte big-endian length prefix followed by the JSON envelope bytes,
// with OnError wired to the connection's read-loop error and
// OnMessageError wired to length-prefix/JSON decode failures. That codec
// is out of scope here: the build/runtime environment that would host it
// (a desktop or web application UI) is treated as an external
// collaborator, and the in-memory Port in xchan.go is sufficient to drive the
// client/dispatcher RPC boundary and the version store end to end
// in-process.
