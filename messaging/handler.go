package messaging

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"robolink/command"
	"robolink/fault"
)

// Sender writes a command to the robot.
type Sender interface {
	Send(ctx context.Context, c command.Command) error
}

// CommandHandler executes robot.command messages from the command topic
// and answers each with a robot.command.result.
type CommandHandler struct {
	sender     Sender
	client     Publisher
	outbox     *Outbox
	codec      Codec
	nodeID     string
	replyTopic string
	timeout    time.Duration
}

// NewCommandHandler creates a handler replying on replyTopic. Replies go
// through outbox when it is non-nil.
func NewCommandHandler(sender Sender, client Publisher, outbox *Outbox, codec Codec, nodeID, replyTopic string, timeout time.Duration) *CommandHandler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CommandHandler{
		sender:     sender,
		client:     client,
		outbox:     outbox,
		codec:      codec,
		nodeID:     nodeID,
		replyTopic: replyTopic,
		timeout:    timeout,
	}
}

// HandleMessage decodes one inbound message and runs it. Messages of other
// types are ignored.
func (h *CommandHandler) HandleMessage(data []byte) {
	env, err := Decode(h.codec, data)
	if err != nil {
		log.Printf("command_handler: %v", err)
		return
	}
	if env.Type != TypeCommand {
		return
	}
	var req CommandRequest
	if err := env.DecodePayload(&req); err != nil {
		log.Printf("command_handler: decode %s: %v", env.ID, err)
		h.reply(env, CommandResult{OK: false, Kind: "invalid", Error: err.Error()})
		return
	}
	h.reply(env, h.run(req))
}

func (h *CommandHandler) run(req CommandRequest) CommandResult {
	res := CommandResult{Command: req.Command}
	body := []byte("{}")
	if len(req.Args) > 0 {
		b, err := json.Marshal(req.Args)
		if err != nil {
			res.Kind, res.Error = "invalid", err.Error()
			return res
		}
		body = b
	}
	cmd, err := command.Decode(req.Command, body)
	if err != nil {
		res.Kind, res.Error = "invalid", err.Error()
		return res
	}
	if err := command.Validate(cmd); err != nil {
		res.Kind, res.Error = "invalid", err.Error()
		return res
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if err := h.sender.Send(ctx, cmd); err != nil {
		res.Kind, res.Error = fault.KindOf(err).String(), err.Error()
		return res
	}
	res.OK = true
	return res
}

func (h *CommandHandler) reply(req *Envelope, res CommandResult) {
	if res.OK {
		log.Printf("command_handler: %s (%s) ok", res.Command, req.ID)
	} else {
		log.Printf("command_handler: %s (%s) failed: %s", res.Command, req.ID, res.Error)
	}
	env, err := NewReply(h.codec, TypeCommandResult, h.nodeID, req.ID, &res)
	if err != nil {
		log.Printf("command_handler: build reply: %v", err)
		return
	}
	if h.outbox != nil {
		if err := h.outbox.Enqueue(h.replyTopic, env); err != nil {
			log.Printf("command_handler: enqueue reply: %v", err)
		}
		return
	}
	if err := PublishEnvelope(h.client, h.replyTopic, env); err != nil {
		log.Printf("command_handler: publish reply: %v", err)
	}
}
