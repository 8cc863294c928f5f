// Package client follows a long-running docsort job from the outside.
//
// An Attempt opens the project's progress socket, fires the HTTP trigger once
// the socket is open, and consumes progress events until the job reports a
// terminal status. Unexpected socket closures are handled by a Supervisor
// loop that owns the retry count and the delay between reconnects.
package client
