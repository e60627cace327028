// Package skill is the conversational side of the bridge. It registers as a
// fallback and converse handler with the assistant, hands unhandled
// utterances to Node-RED and blocks on the answer with a bounded wait.
package skill

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/tinyland-inc/noderedmind/pkg/bus"
	"github.com/tinyland-inc/noderedmind/pkg/interaction"
	"github.com/tinyland-inc/noderedmind/pkg/logger"
	"github.com/tinyland-inc/noderedmind/pkg/translate"
)

// DefaultSkillID names the skill on the bus.
const DefaultSkillID = "noderedmind.skill"

// Assistant bus protocol.
const (
	TypeFallbackRegister   = "ovos.skills.fallback.register"
	TypeFallbackDeregister = "ovos.skills.fallback.deregister"
	TypeConverseResponse   = "skill.converse.response"
	TypeActivate           = "intent.service.skills.activate"
)

// Intent names handled by the skill. The intent service delivers a match as a
// bus message of type "<skill id>:<intent>".
const (
	IntentPing            = "PingNode"
	IntentConverseEnable  = "ConverseEnable"
	IntentConverseDisable = "ConverseDisable"
	IntentWhyReboot       = "WhyReboot"
)

// Bus is the part of the internal bus the skill uses.
type Bus interface {
	Emit(msg bus.Message) error
	On(msgType string, handler bus.Handler) func()
	Once(msgType string, handler bus.Handler) func()
}

type Config struct {
	SkillID           string
	Priority          int
	Timeout           time.Duration
	KeepaliveInterval time.Duration
	// ShutdownGrace bounds the wait for the keepalive loop on Stop.
	ShutdownGrace time.Duration
}

type Skill struct {
	config    Config
	bus       Bus
	emulator  *interaction.Emulator
	keepalive *interaction.Keepalive

	mu        sync.Mutex
	lastError *string
	unsubs    []func()
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func New(b Bus, cfg Config) *Skill {
	if cfg.SkillID == "" {
		cfg.SkillID = DefaultSkillID
	}
	if cfg.Priority == 0 {
		cfg.Priority = 50
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 2 * time.Second
	}
	s := &Skill{
		config:   cfg,
		bus:      b,
		emulator: interaction.New(b, cfg.Timeout),
	}
	s.keepalive = interaction.NewKeepalive(cfg.KeepaliveInterval, s.makeActive)
	return s
}

func (s *Skill) ID() string { return s.config.SkillID }

// Conversing reports whether utterances are followed with Node-RED.
func (s *Skill) Conversing() bool { return s.keepalive.Conversing() }

// Start subscribes every handler, registers the fallback and starts the
// keepalive loop.
func (s *Skill) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancel = cancel
	s.unsubs = append(s.unsubs,
		s.bus.On(translate.TypeSuccess, s.emulator.Succeed),
		s.bus.On(translate.TypeIntentFailure, s.emulator.Fail),
		s.bus.On(translate.TypeConverseActivate, s.handleConverseEnable),
		s.bus.On(translate.TypeConverseDeactivate, s.handleConverseDisable),
		s.bus.On(translate.TypeConnectionError, s.handleWrongKey),

		s.bus.On(s.intent(IntentPing), s.handlePing),
		s.bus.On(s.intent(IntentConverseEnable), s.handleConverseEnable),
		s.bus.On(s.intent(IntentConverseDisable), s.handleConverseDisable),
		s.bus.On(s.intent(IntentWhyReboot), s.handleWhyReboot),

		s.bus.On(s.fallbackRequestType(), s.async(ctx, s.handleFallback)),
		s.bus.On(s.converseRequestType(), s.async(ctx, s.handleConverse)),
	)
	s.mu.Unlock()

	s.emit(bus.NewMessage(TypeFallbackRegister, map[string]any{
		"skill_id": s.config.SkillID,
		"priority": s.config.Priority,
	}, nil))
	s.keepalive.Start(ctx)

	logger.InfoCF("skill", "Skill started", map[string]any{
		"skill_id": s.config.SkillID,
		"priority": s.config.Priority,
		"timeout":  s.emulator.Timeout().String(),
	})
}

// Stop deregisters the skill, fails outstanding waits and joins the keepalive
// loop with the configured grace period.
func (s *Skill) Stop() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	cancel := s.cancel
	s.mu.Unlock()

	for _, off := range unsubs {
		off()
	}
	s.emit(bus.NewMessage(TypeFallbackDeregister, map[string]any{
		"skill_id": s.config.SkillID,
	}, nil))

	if cancel != nil {
		cancel()
	}
	s.emulator.Close()
	if !s.keepalive.Stop(s.config.ShutdownGrace) {
		logger.WarnC("skill", "Keepalive did not stop in time")
	}
	s.wg.Wait()
	logger.InfoCF("skill", "Skill stopped", map[string]any{"skill_id": s.config.SkillID})
}

func (s *Skill) intent(name string) string {
	return s.config.SkillID + ":" + name
}

func (s *Skill) fallbackRequestType() string {
	return "ovos.skills.fallback." + s.config.SkillID + ".request"
}

func (s *Skill) fallbackResponseType() string {
	return "ovos.skills.fallback." + s.config.SkillID + ".response"
}

func (s *Skill) converseRequestType() string {
	return s.config.SkillID + ".converse.request"
}

// async runs a blocking handler off the bus dispatcher.
func (s *Skill) async(ctx context.Context, h func(context.Context, bus.Message)) bus.Handler {
	return func(msg bus.Message) {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			h(ctx, msg)
		}()
	}
}

func (s *Skill) emit(msg bus.Message) {
	if err := s.bus.Emit(msg); err != nil {
		logger.WarnCF("skill", "Cannot emit message", map[string]any{
			"type":  msg.Type,
			"error": err.Error(),
		})
	}
}

func (s *Skill) speak(trigger bus.Message, utterance string) {
	s.emit(trigger.Forward(translate.TypeBusSpeak, map[string]any{
		"utterance":       utterance,
		"expect_response": false,
		"meta":            map[string]any{"skill": s.config.SkillID},
	}))
}

func (s *Skill) speakDialog(trigger bus.Message, name string) {
	s.speak(trigger, render(name))
}

// waitForNode emits msg as the opening of a conversation and blocks until
// Node-RED answers or the wait times out.
func (s *Skill) waitForNode(ctx context.Context, trigger, msg bus.Message) bool {
	p, err := s.emulator.Begin(&trigger, 0)
	if err != nil {
		return false
	}
	if err := s.bus.Emit(p.Tag(msg)); err != nil {
		logger.WarnCF("skill", "Cannot reach Node-RED", map[string]any{
			"type":  msg.Type,
			"error": err.Error(),
		})
		s.emulator.Resolve(p.Tag(msg), interaction.OutcomeFailure)
	}
	return s.emulator.Wait(ctx, p)
}

func (s *Skill) handleFallback(ctx context.Context, msg bus.Message) {
	ok := s.waitForNode(ctx, msg, msg.Reply(translate.TypeFallback, msg.Data))
	s.emit(msg.Reply(s.fallbackResponseType(), map[string]any{
		"result":           ok,
		"fallback_handler": s.config.SkillID + ".handle_fallback",
	}))
}

func (s *Skill) handleConverse(ctx context.Context, msg bus.Message) {
	ok := false
	if utterance, found := firstUtterance(msg.Data); found && s.Conversing() &&
		!strings.HasPrefix(msg.ContextString("platform"), translate.Platform) {
		ok = s.waitForNode(ctx, msg, msg.Reply(translate.TypeConverse, map[string]any{
			"utterance": utterance,
		}))
	}
	s.emit(msg.Reply(TypeConverseResponse, map[string]any{
		"skill_id": s.config.SkillID,
		"result":   ok,
	}))
}

func firstUtterance(data map[string]any) (string, bool) {
	switch v := data["utterances"].(type) {
	case []string:
		if len(v) > 0 {
			return v[0], true
		}
	case []any:
		if len(v) > 0 {
			if str, ok := v[0].(string); ok {
				return str, true
			}
		}
	}
	if str, ok := data["utterance"].(string); ok && str != "" {
		return str, true
	}
	return "", false
}

func (s *Skill) handleConverseEnable(msg bus.Message) {
	if s.keepalive.Conversing() {
		s.speakDialog(msg, "converse_on")
		return
	}
	s.speakDialog(msg, "converse_enable")
	s.keepalive.SetConversing(true)
	s.makeActive()
}

func (s *Skill) handleConverseDisable(msg bus.Message) {
	if !s.keepalive.Conversing() {
		s.speakDialog(msg, "converse_off")
		return
	}
	s.speakDialog(msg, "converse_disable")
	s.keepalive.SetConversing(false)
}

// handleWrongKey announces a rejected connection once per distinct error.
func (s *Skill) handleWrongKey(msg bus.Message) {
	errText, _ := msg.Data["error"].(string)

	s.mu.Lock()
	repeated := s.lastError != nil && *s.lastError == errText
	s.lastError = &errText
	s.mu.Unlock()

	if repeated {
		return
	}
	s.speakDialog(msg, "bad_key")
	if errText != "" {
		s.speak(msg, errText)
	}
}

func (s *Skill) handleWhyReboot(msg bus.Message) {
	s.speakDialog(msg, "why")
}

func (s *Skill) handlePing(msg bus.Message) {
	s.speak(msg, "ping")
	s.bus.Once(translate.TypePong, func(pong bus.Message) {
		s.speak(pong, "pong")
	})
	s.emit(msg.Forward(translate.TypePing, map[string]any{}))
}

// makeActive keeps the skill in the assistant's active list so converse
// requests keep arriving.
func (s *Skill) makeActive() {
	s.emit(bus.NewMessage(TypeActivate, map[string]any{
		"skill_id": s.config.SkillID,
	}, nil))
}
