// Package observer streams runtime reports to websocket clients.
//
// Each connection first receives a hello message carrying the last observed
// frame, then one report message per runtime entry point:
//
//	{"ver":1,"type":"report","frame":12,"report":{"entry":"step","commands":[...]}}
package observer
