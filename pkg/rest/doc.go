// Package rest carries the external task protocol over HTTP/JSON.
//
// Client implements api.Coordinator against a coordinator's REST API, and
// NewHandler serves any api.Coordinator through the same API:
//
//	POST /external-task/fetchAndLock
//	POST /external-task/{id}/complete
//	POST /external-task/{id}/failure
//	POST /external-task/{id}/bpmnError
//	POST /external-task/{id}/extendLock
//	POST /external-task/{id}/unlock
//
// Durations are integer milliseconds. Error responses carry a JSON body
// {"type": ..., "message": ...}; Client maps 404 to api.ErrTaskNotFound,
// 409 and lock-ownership messages to api.ErrLockExpired, and 400 to
// api.ErrInvalidRequest. Other failures surface as *api.ResponseError or
// *api.TransportError.
package rest
