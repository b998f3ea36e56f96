// Package fusion is a client runtime for a remote scene graph.
//
// A server owns every object. The client holds Nodes, which are local proxies
// addressed by absolute path, and talks to the server only through signals
// (fire and forget) and method calls (one reply per call).
//
// Ownership:
//   - The Client owns the connection, the Scenegraph and the root Node.
//   - Whoever holds a Node (or a HandlerWrapper around a typed object) owns
//     the server object. Closing the Node, or losing the last reference to
//     it, sends exactly one "destroy" signal.
//   - The Scenegraph only holds weak pointers; it never keeps a Node alive.
//   - Callbacks installed on a Node capture WeakRef and WeakHandler values,
//     never the Node or the handler itself.
//
// Inbound frames, method-call replies included, are dispatched one at a time
// in arrival order by Client.Run. A reply to a call made from inside a
// callback is resolved as soon as it arrives, so a callback may block on
// ExecuteRemoteMethod without stalling its own reply.
package fusion
