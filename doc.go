// Package onramp implements a WAMP v1 client - The WebSocket Application
// Messaging Protocol.
//
// A Session speaks the v1 wire protocol (WELCOME, PREFIX, CALL, CALLRESULT,
// CALLERROR, SUBSCRIBE, UNSUBSCRIBE, PUBLISH, EVENT) over any Transport. Dial
// opens a session over a websocket and returns once the server has welcomed
// it. Calls return a Future settled by the matching CALLRESULT or CALLERROR.
// A Supervisor keeps a session open across connection failures.
//
// See http://wamp.ws/spec/wamp1/ for the protocol.
package onramp
