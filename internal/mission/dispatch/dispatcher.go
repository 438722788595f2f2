// Package dispatch normalizes inbound envelopes from the HTTP ingress and
// the broker queue into lifecycle commands. Both ingress paths share one
// command table; only the caller-identity rule differs between them.
package dispatch

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/stage7/missionctl/internal/common/errs"
	"github.com/stage7/missionctl/internal/common/logger"
	"github.com/stage7/missionctl/internal/events/bus"
	"github.com/stage7/missionctl/internal/mission/service"
	"github.com/stage7/missionctl/internal/userinput"
	v1 "github.com/stage7/missionctl/pkg/api/v1"
)

// commandFunc executes one recognized command and returns its result.
type commandFunc func(ctx context.Context, msg *v1.Message, userID string) (any, error)

// commandContent covers the fields lifecycle commands carry in the
// envelope content. Each handler reads only the fields it needs.
type commandContent struct {
	MissionID   string          `json:"missionId"`
	MissionName string          `json:"missionName,omitempty"`
	Message     string          `json:"message,omitempty"`
	RequestID   string          `json:"requestId,omitempty"`
	Response    json.RawMessage `json:"response,omitempty"`
}

// Dispatcher routes envelopes to lifecycle and input handlers. Unknown
// types pass through to the broker for routing to their real recipient.
type Dispatcher struct {
	service  *service.Service
	inputs   *userinput.Router
	bus      bus.MessageBus
	logger   *logger.Logger
	commands map[v1.MessageType]commandFunc
}

// NewDispatcher creates a Dispatcher with the full command table.
func NewDispatcher(svc *service.Service, inputs *userinput.Router, b bus.MessageBus, log *logger.Logger) *Dispatcher {
	d := &Dispatcher{
		service: svc,
		inputs:  inputs,
		bus:     b,
		logger:  log,
	}
	d.commands = map[v1.MessageType]commandFunc{
		v1.MessageTypeCreateMission:     d.createMission,
		v1.MessageTypePause:             d.pause,
		v1.MessageTypeResume:            d.resume,
		v1.MessageTypeAbort:             d.abort,
		v1.MessageTypeSave:              d.save,
		v1.MessageTypeLoad:              d.load,
		v1.MessageTypeListMissions:      d.listMissions,
		v1.MessageTypeUserMessage:       d.userMessage,
		v1.MessageTypeUserInputRequest:  d.userInputRequest,
		v1.MessageTypeUserInputResponse: d.userInputResponse,
	}
	return d
}

// Dispatch executes the command for msg on behalf of userID. The caller
// resolves userID per its ingress rule: the HTTP path takes it from the
// verified token, the queue path from the envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *v1.Message, userID string) (any, error) {
	if cmd, ok := d.commands[msg.Type]; ok {
		return cmd(ctx, msg, userID)
	}
	return nil, d.passThrough(ctx, msg)
}

// passThrough forwards an unrecognized envelope to the broker so it can
// reach its actual recipient.
func (d *Dispatcher) passThrough(ctx context.Context, msg *v1.Message) error {
	if d.bus == nil || msg.Recipient == "" {
		return errs.Validationf("unrecognized message type %s", msg.Type)
	}
	d.logger.Debug("passing message through to broker",
		zap.String("type", string(msg.Type)),
		zap.String("recipient", msg.Recipient),
	)
	return d.bus.Publish(ctx, msg.Recipient, msg)
}

func decodeCommand(msg *v1.Message) (commandContent, error) {
	var content commandContent
	if err := msg.DecodeContent(&content); err != nil {
		return content, errs.Validationf("malformed %s content: %v", msg.Type, err)
	}
	return content, nil
}

// missionID resolves the target mission from the envelope, preferring the
// top-level field over the content.
func missionID(msg *v1.Message, content commandContent) (string, error) {
	if msg.MissionID != "" {
		return msg.MissionID, nil
	}
	if content.MissionID != "" {
		return content.MissionID, nil
	}
	return "", errs.Validationf("%s requires a missionId", msg.Type)
}

func (d *Dispatcher) createMission(ctx context.Context, msg *v1.Message, userID string) (any, error) {
	var req service.CreateMissionRequest
	if err := msg.DecodeContent(&req); err != nil {
		return nil, errs.Validationf("malformed CREATE_MISSION content: %v", err)
	}
	m, err := d.service.Create(ctx, req, msg.ClientID, userID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"missionId": m.ID, "status": m.Status}, nil
}

func (d *Dispatcher) pause(ctx context.Context, msg *v1.Message, _ string) (any, error) {
	content, err := decodeCommand(msg)
	if err != nil {
		return nil, err
	}
	id, err := missionID(msg, content)
	if err != nil {
		return nil, err
	}
	m, err := d.service.Pause(ctx, id)
	if err != nil {
		return nil, err
	}
	return map[string]any{"missionId": m.ID, "status": m.Status}, nil
}

func (d *Dispatcher) resume(ctx context.Context, msg *v1.Message, _ string) (any, error) {
	content, err := decodeCommand(msg)
	if err != nil {
		return nil, err
	}
	id, err := missionID(msg, content)
	if err != nil {
		return nil, err
	}
	m, err := d.service.Resume(ctx, id)
	if err != nil {
		return nil, err
	}
	return map[string]any{"missionId": m.ID, "status": m.Status}, nil
}

func (d *Dispatcher) abort(ctx context.Context, msg *v1.Message, _ string) (any, error) {
	content, err := decodeCommand(msg)
	if err != nil {
		return nil, err
	}
	id, err := missionID(msg, content)
	if err != nil {
		return nil, err
	}
	if err := d.service.Abort(ctx, id); err != nil {
		return nil, err
	}
	return map[string]any{"missionId": id, "status": v1.MissionStatusAborted}, nil
}

func (d *Dispatcher) save(ctx context.Context, msg *v1.Message, _ string) (any, error) {
	content, err := decodeCommand(msg)
	if err != nil {
		return nil, err
	}
	id, err := missionID(msg, content)
	if err != nil {
		return nil, err
	}
	m, err := d.service.Save(ctx, id, content.MissionName)
	if err != nil {
		return nil, err
	}
	return map[string]any{"missionId": m.ID, "name": m.Name, "status": m.Status}, nil
}

func (d *Dispatcher) load(ctx context.Context, msg *v1.Message, userID string) (any, error) {
	content, err := decodeCommand(msg)
	if err != nil {
		return nil, err
	}
	id, err := missionID(msg, content)
	if err != nil {
		return nil, err
	}
	m, err := d.service.Load(ctx, id, msg.ClientID, userID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"missionId": m.ID, "name": m.Name, "status": m.Status}, nil
}

func (d *Dispatcher) listMissions(ctx context.Context, _ *v1.Message, userID string) (any, error) {
	return d.service.List(ctx, userID)
}

func (d *Dispatcher) userMessage(ctx context.Context, msg *v1.Message, _ string) (any, error) {
	content, err := decodeCommand(msg)
	if err != nil {
		return nil, err
	}
	id, err := missionID(msg, content)
	if err != nil {
		return nil, err
	}
	m, err := d.service.HandleUserMessage(ctx, id, msg.ClientID, content.Message)
	if err != nil {
		return nil, err
	}
	return map[string]any{"missionId": m.ID, "status": m.Status}, nil
}

func (d *Dispatcher) userInputRequest(_ context.Context, msg *v1.Message, _ string) (any, error) {
	var req v1.UserInputRequestContent
	if err := msg.DecodeContent(&req); err != nil {
		return nil, errs.Validationf("malformed USER_INPUT_REQUEST content: %v", err)
	}
	if req.MissionID == "" {
		req.MissionID = msg.MissionID
	}
	if err := d.inputs.Register(req); err != nil {
		return nil, err
	}
	return map[string]any{"requestId": req.RequestID}, nil
}

func (d *Dispatcher) userInputResponse(ctx context.Context, msg *v1.Message, _ string) (any, error) {
	content, err := decodeCommand(msg)
	if err != nil {
		return nil, err
	}
	if content.RequestID == "" {
		return nil, errs.Validationf("USER_INPUT_RESPONSE requires a requestId")
	}
	if err := d.inputs.Respond(ctx, content.RequestID, content.Response); err != nil {
		return nil, err
	}
	return map[string]any{"requestId": content.RequestID}, nil
}
