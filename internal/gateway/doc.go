// Package gateway exposes a TableStore service over HTTP/JSON.
//
// Routes:
//
//	POST   /register_table                  {"table_name"}              201 {"status"}
//	POST   /create                          {"table_name", ...}         201 {"status","offset"}
//	GET    /read/{table}/{pkey}/{skey}                                  200 {"value"}
//	DELETE /delete/{table}/{pkey}/{skey}                                200 {"status","offset"}
//	GET    /exists/{table}/{pkey}/{skey}                                200 {"exists"}
//	GET    /fetch?from_offset=N                                         200 [record, ...]
//	GET    /status                                                      200 status object
//	GET    /health                                                      200 or 503
//
// Errors are returned as {"error": message} with the status code derived
// from the gRPC code of the service error.
package gateway
