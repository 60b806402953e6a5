// Package containers abstracts the bot worker control plane. The orchestrator
// talks to a [Runtime]; the production implementation lives in the docker
// subpackage.
package containers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/meetscribe/meetscribe/internal/apperr"
	"github.com/meetscribe/meetscribe/internal/platform"
)

// Automatic-leave timeouts handed to every bot, in milliseconds. A bot that
// sits in a waiting room, joins an empty meeting, or outlives all human
// participants for this long leaves on its own.
const autoLeaveTimeoutMS = 300_000

// LaunchSpec describes one bot worker to start.
type LaunchSpec struct {
	Platform     platform.Platform
	MeetingURL   string
	Token        string
	BotName      string
	ConnectionID string
}

// Runtime launches and stops bot workers. Implementations must be safe for
// concurrent use; the orchestrator shares one per process.
type Runtime interface {
	// Launch starts a bot for spec and returns the container id. Failures
	// wrap [apperr.ErrLaunchFailed].
	Launch(ctx context.Context, spec LaunchSpec) (string, error)
	// Stop terminates the container. A container that is already gone or
	// already stopped counts as success.
	Stop(ctx context.Context, containerID string) error
	// Ping verifies the control plane is reachable.
	Ping(ctx context.Context) error
}

// botConfig is the self-contained configuration document each bot reads from
// its BOT_CONFIG environment variable. Field names are part of the bot image
// contract and must not change.
type botConfig struct {
	Platform       string         `json:"platform"`
	MeetingURL     string         `json:"meetingUrl"`
	BotName        string         `json:"botName"`
	Token          string         `json:"token"`
	ConnectionID   string         `json:"connectionId"`
	AutomaticLeave automaticLeave `json:"automaticLeave"`
}

type automaticLeave struct {
	WaitingRoomTimeout  int `json:"waitingRoomTimeout"`
	NoOneJoinedTimeout  int `json:"noOneJoinedTimeout"`
	EveryoneLeftTimeout int `json:"everyoneLeftTimeout"`
}

// BotEnv renders the environment block for a bot container. The flat
// variables duplicate the BOT_CONFIG document for older image revisions that
// predate it.
func BotEnv(spec LaunchSpec, transcriptionService string) ([]string, error) {
	cfg := botConfig{
		Platform:     string(spec.Platform),
		MeetingURL:   spec.MeetingURL,
		BotName:      spec.BotName,
		Token:        spec.Token,
		ConnectionID: spec.ConnectionID,
		AutomaticLeave: automaticLeave{
			WaitingRoomTimeout:  autoLeaveTimeoutMS,
			NoOneJoinedTimeout:  autoLeaveTimeoutMS,
			EveryoneLeftTimeout: autoLeaveTimeoutMS,
		},
	}
	doc, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("containers: marshal bot config: %w", err)
	}
	return []string{
		"BOT_CONFIG=" + string(doc),
		"PLATFORM=" + string(spec.Platform),
		"TOKEN=" + spec.Token,
		"MEETING_URL=" + spec.MeetingURL,
		"TRANSCRIPTION_SERVICE=" + transcriptionService,
	}, nil
}

// ContainerName generates a per-launch container name. The fixed prefix lets
// operators find and reap orphaned bots by name.
func ContainerName(p platform.Platform) string {
	short := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("meetscribe-bot-%s-%s", p, short)
}

// LaunchErr wraps a control-plane failure so callers can match on
// [apperr.ErrLaunchFailed].
func LaunchErr(op string, err error) error {
	return fmt.Errorf("containers: %s: %w: %w", op, err, apperr.ErrLaunchFailed)
}
