package store

import "github.com/JakeFAU/archive-coordinator/internal/job"

// Bus channel names. ChannelLogUpdates carries log-update signals whose
// payload is a bare ident; ChannelBroadcast carries the fan-out engine's
// JSON messages for connected relays.
const (
	ChannelLogUpdates = "updates"
	ChannelBroadcast  = "broadcast"
)

// JobChannel names the per-job channel carrying parameter-change
// notifications; the payload is the new settings_age.
func JobChannel(ident job.Ident) string {
	return "job:" + ident.String()
}
