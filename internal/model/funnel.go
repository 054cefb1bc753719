// internal/model/funnel.go
package model

import "strings"

// FunnelStatus is a prospect's position in the outreach sequence.
type FunnelStatus string

const (
	StatusPending               FunnelStatus = "pending"
	StatusApproved              FunnelStatus = "approved"
	StatusReadyToMessage        FunnelStatus = "ready_to_message"
	StatusQueuedInWorkflow      FunnelStatus = "queued_in_workflow"
	StatusContacted             FunnelStatus = "contacted"
	StatusConnectionRequested   FunnelStatus = "connection_requested"
	StatusConnectionAccepted    FunnelStatus = "connection_accepted"
	StatusConnectionRejected    FunnelStatus = "connection_rejected"
	StatusAcceptanceMessageSent FunnelStatus = "acceptance_message_sent"
	StatusFU1Sent               FunnelStatus = "fu1_sent"
	StatusFU2Sent               FunnelStatus = "fu2_sent"
	StatusFU3Sent               FunnelStatus = "fu3_sent"
	StatusFU4Sent               FunnelStatus = "fu4_sent"
	StatusGBSent                FunnelStatus = "gb_sent"
	StatusReplied               FunnelStatus = "replied"
	StatusCompleted             FunnelStatus = "completed"
	StatusFailed                FunnelStatus = "failed"
)

// FunnelStatuses lists every member of the enum in funnel order.
var FunnelStatuses = []FunnelStatus{
	StatusPending,
	StatusApproved,
	StatusReadyToMessage,
	StatusQueuedInWorkflow,
	StatusContacted,
	StatusConnectionRequested,
	StatusConnectionAccepted,
	StatusConnectionRejected,
	StatusAcceptanceMessageSent,
	StatusFU1Sent,
	StatusFU2Sent,
	StatusFU3Sent,
	StatusFU4Sent,
	StatusGBSent,
	StatusReplied,
	StatusCompleted,
	StatusFailed,
}

// ParseFunnelStatus normalizes a label and reports whether it is in the enum.
func ParseFunnelStatus(value string) (FunnelStatus, bool) {
	s := FunnelStatus(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range FunnelStatuses {
		if s == known {
			return s, true
		}
	}
	return "", false
}

// IsContacted is true for every stage at or past the first outbound touch.
func (s FunnelStatus) IsContacted() bool {
	switch s {
	case StatusContacted,
		StatusConnectionRequested,
		StatusConnectionAccepted,
		StatusConnectionRejected,
		StatusAcceptanceMessageSent,
		StatusFU1Sent,
		StatusFU2Sent,
		StatusFU3Sent,
		StatusFU4Sent,
		StatusGBSent,
		StatusReplied:
		return true
	}
	return false
}

// IsFirstTouch marks the stages that open a conversation.
func (s FunnelStatus) IsFirstTouch() bool {
	return s == StatusConnectionRequested || s == StatusContacted
}

// IsMessageSent is true for stages that put a message in front of the prospect.
func (s FunnelStatus) IsMessageSent() bool {
	return s.IsFirstTouch() || strings.HasSuffix(string(s), "_sent")
}

func (s FunnelStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// funnelTransitions is the adjacency table for non-override transitions.
// failed is reachable from every non-terminal stage and is added below.
var funnelTransitions = map[FunnelStatus][]FunnelStatus{
	StatusPending:               {StatusApproved, StatusReadyToMessage, StatusQueuedInWorkflow, StatusCompleted},
	StatusApproved:              {StatusReadyToMessage, StatusQueuedInWorkflow, StatusCompleted},
	StatusReadyToMessage:        {StatusQueuedInWorkflow, StatusConnectionRequested, StatusContacted, StatusCompleted},
	StatusQueuedInWorkflow:      {StatusReadyToMessage, StatusConnectionRequested, StatusContacted, StatusCompleted},
	StatusConnectionRequested:   {StatusConnectionAccepted, StatusConnectionRejected, StatusReplied},
	StatusConnectionAccepted:    {StatusAcceptanceMessageSent, StatusFU1Sent, StatusReplied, StatusCompleted},
	StatusConnectionRejected:    {StatusCompleted},
	StatusAcceptanceMessageSent: {StatusFU1Sent, StatusReplied, StatusCompleted},
	StatusContacted:             {StatusFU1Sent, StatusReplied, StatusCompleted},
	StatusFU1Sent:               {StatusFU2Sent, StatusReplied, StatusCompleted},
	StatusFU2Sent:               {StatusFU3Sent, StatusGBSent, StatusReplied, StatusCompleted},
	StatusFU3Sent:               {StatusFU4Sent, StatusGBSent, StatusReplied, StatusCompleted},
	StatusFU4Sent:               {StatusGBSent, StatusReplied, StatusCompleted},
	StatusGBSent:                {StatusReplied, StatusCompleted},
	StatusReplied:               {StatusCompleted},
}

// CanTransition reports whether from -> to is in the transition table.
// Re-entering the current status is always allowed so replays stay harmless.
func CanTransition(from, to FunnelStatus) bool {
	if from == to {
		return true
	}
	if to == StatusFailed {
		return !from.IsTerminal()
	}
	for _, next := range funnelTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
