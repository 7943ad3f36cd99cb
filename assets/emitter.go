package assets

import "assetedge/protocol"

// EventEmitter is the interface the assets package uses to emit events.
type EventEmitter interface {
	EmitAssetsRefreshed(count int, source string)
	EmitActionQueued(actionID, actionType string)
	EmitRemoteWrite(rc protocol.RowChanged)
}

type noopEmitter struct{}

func (noopEmitter) EmitAssetsRefreshed(int, string) {}
func (noopEmitter) EmitActionQueued(string, string) {}
func (noopEmitter) EmitRemoteWrite(protocol.RowChanged) {}
