package room

import (
	"encoding/json"
	"fmt"

	"github.com/codedocs/server/cmd/server/internal/document"
	"github.com/codedocs/server/cmd/server/internal/ot"
)

// Inbound message kinds form a closed set; anything else terminates
// the connection.
const (
	msgFileInfo             = "file_info"
	msgActiveUsers          = "active_users"
	msgAllUsers             = "all_users"
	msgChangeFileConfig     = "change_file_config"
	msgChangeLinkAccess     = "change_link_access"
	msgChangeUserAccess     = "change_user_access"
	msgApplyOperation       = "apply_operation"
	msgOperationHistory     = "operation_history"
	msgChangeCursorPosition = "change_cursor_position"
	msgRunFile              = "run_file"
	msgFileInput            = "file_input"
	msgStopFile             = "stop_file"
)

// Outbound-only event kinds.
const (
	evtChannelName = "channel_name"
	evtFileStatus  = "file_status"
	evtNewUser     = "new_user"
	evtDeleteUser  = "delete_user"
	evtFileOutput  = "file_output"
	evtEndRunFile  = "END run_file"
	evtError       = "error"
)

// event is one outbound protocol message.
type event map[string]interface{}

func errorEvent(e *Error) event {
	return event{"type": evtError, "error_code": e.EventCode(), "message": e.Message}
}

type changeFileConfigMsg struct {
	Config struct {
		Name     *string `json:"name"`
		Language *string `json:"programming_language"`
	} `json:"config"`
}

type changeLinkAccessMsg struct {
	NewAccess *document.AccessLevel `json:"new_access"`
}

type changeUserAccessMsg struct {
	AnotherUserID string                `json:"another_user_id"`
	NewAccess     *document.AccessLevel `json:"new_access"`
}

type applyOperationMsg struct {
	Revision  *uint64       `json:"revision"`
	Operation *ot.Operation `json:"operation"`
}

type operationHistoryMsg struct {
	Revision *uint64 `json:"revision"`
}

type changeCursorPositionMsg struct {
	Position *int `json:"position"`
}

type fileInputMsg struct {
	FileInput *string `json:"file_input"`
}

// Dispatch routes one raw inbound message to its handler. A non-nil
// return means the connection must be terminated (unknown kind);
// malformed payloads only produce an error event.
func (r *Room) Dispatch(connID string, raw []byte) error {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		r.sendError(connID, InvalidInput("malformed message"))
		return nil
	}

	switch env.Type {
	case msgFileInfo:
		r.FileInfo(connID)
	case msgActiveUsers:
		r.ActiveUsers(connID)
	case msgAllUsers:
		r.AllUsers(connID)
	case msgChangeFileConfig:
		var p changeFileConfigMsg
		if err := json.Unmarshal(raw, &p); err != nil {
			r.sendError(connID, InvalidInput("malformed config"))
			return nil
		}
		r.ChangeFileConfig(connID, p.Config.Name, p.Config.Language)
	case msgChangeLinkAccess:
		var p changeLinkAccessMsg
		if err := json.Unmarshal(raw, &p); err != nil || p.NewAccess == nil {
			r.sendError(connID, InvalidInput("new_access required"))
			return nil
		}
		r.ChangeLinkAccess(connID, *p.NewAccess)
	case msgChangeUserAccess:
		var p changeUserAccessMsg
		if err := json.Unmarshal(raw, &p); err != nil || p.AnotherUserID == "" || p.NewAccess == nil {
			r.sendError(connID, InvalidInput("another_user_id and new_access required"))
			return nil
		}
		r.ChangeUserAccess(connID, p.AnotherUserID, *p.NewAccess)
	case msgApplyOperation:
		var p applyOperationMsg
		if err := json.Unmarshal(raw, &p); err != nil || p.Revision == nil || p.Operation == nil {
			r.sendError(connID, InvalidInput("revision and operation required"))
			return nil
		}
		r.ApplyOperation(connID, *p.Revision, *p.Operation)
	case msgOperationHistory:
		var p operationHistoryMsg
		if err := json.Unmarshal(raw, &p); err != nil || p.Revision == nil {
			r.sendError(connID, InvalidInput("revision required"))
			return nil
		}
		r.History(connID, *p.Revision)
	case msgChangeCursorPosition:
		var p changeCursorPositionMsg
		if err := json.Unmarshal(raw, &p); err != nil || p.Position == nil {
			r.sendError(connID, InvalidInput("position required"))
			return nil
		}
		r.ChangeCursorPosition(connID, *p.Position)
	case msgRunFile:
		r.RunFile(connID)
	case msgFileInput:
		var p fileInputMsg
		if err := json.Unmarshal(raw, &p); err != nil || p.FileInput == nil {
			r.sendError(connID, InvalidInput("file_input required"))
			return nil
		}
		r.FileInput(connID, *p.FileInput)
	case msgStopFile:
		r.StopFile(connID)
	default:
		return fmt.Errorf("unknown message type %q", env.Type)
	}
	return nil
}
