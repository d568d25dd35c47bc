package pwmbox

import "fmt"

const (
	SyncRead  = "Read"
	SyncWrite = "Write"
)

// SyncMessage reports the progress of a read-all or write-all,
// counted in slots.
type SyncMessage struct {
	Type     string
	Done     int
	Total    int
	Status   string
	Erronous bool
	Final    bool
}

func syncMessage(t string, done, total int, message string, bErr bool, final bool) SyncMessage {
	return SyncMessage{
		Type:     t,
		Done:     done,
		Total:    total,
		Status:   message,
		Erronous: bErr,
		Final:    final,
	}
}

func syncStarted(t string, total int) SyncMessage {
	return syncMessage(t, 0, total, "Started...", false, false)
}

func syncProgress(t string, done, total int) SyncMessage {
	return syncMessage(t, done, total, fmt.Sprintf("Slot %d/%d...", done, total), false, false)
}

func syncCompleted(t string, total int, warnings int) SyncMessage {
	if warnings > 0 {
		return syncMessage(t, total, total, fmt.Sprintf("Completed %d slots with %d index warnings", total, warnings), true, true)
	}
	return syncMessage(t, total, total, fmt.Sprintf("Completed %d slots", total), false, true)
}

func syncError(t string, done, total int, err error) SyncMessage {
	return syncMessage(t, done, total, err.Error(), true, true)
}

func readStarted(total int) SyncMessage        { return syncStarted(SyncRead, total) }
func readProgress(done, total int) SyncMessage { return syncProgress(SyncRead, done, total) }
func readCompleted(total, warnings int) SyncMessage {
	return syncCompleted(SyncRead, total, warnings)
}
func readError(done, total int, err error) SyncMessage { return syncError(SyncRead, done, total, err) }

func writeStarted(total int) SyncMessage        { return syncStarted(SyncWrite, total) }
func writeProgress(done, total int) SyncMessage { return syncProgress(SyncWrite, done, total) }
func writeCompleted(total int) SyncMessage      { return syncCompleted(SyncWrite, total, 0) }
func writeError(done, total int, err error) SyncMessage {
	return syncError(SyncWrite, done, total, err)
}
