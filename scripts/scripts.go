// Package scripts embeds the Risor scripts shipped with arbor.
//
// outline/<language>.risor lists the definitions of a file. Each script
// receives the globals path and language and reports every definition with
// emit(kind, name_node, definition_node).
package scripts

import "embed"

//go:embed outline/*.risor
var FS embed.FS
