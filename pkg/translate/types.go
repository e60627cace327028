package translate

// Prefix marks every message type that belongs to the Node-RED bridge.
const Prefix = "node_red."

// Platform is stamped into the context of every translated inbound message.
const Platform = "NodeRedMind"

// Peer namespace types.
const (
	TypeQuery              = Prefix + "query"
	TypeAnswer             = Prefix + "answer"
	TypeSpeak              = Prefix + "speak"
	TypeTTS                = Prefix + "tts"
	TypeListen             = Prefix + "listen"
	TypePing               = Prefix + "ping"
	TypePong               = Prefix + "pong"
	TypeConverseActivate   = Prefix + "converse.activate"
	TypeConverseDeactivate = Prefix + "converse.deactivate"
	TypeIntentFailure      = Prefix + "intent_failure"
	TypeSuccess            = Prefix + "success"
	TypeTimeout            = Prefix + "timeout"
	TypeFallback           = Prefix + "fallback"
	TypeConverse           = Prefix + "converse"
)

// Internal bus types produced or consumed by the translator.
const (
	TypeUtterance             = "recognizer_loop:utterance"
	TypeBusSpeak              = "speak"
	TypeMicListen             = "mycroft.mic.listen"
	TypeCompleteIntentFailure = "complete_intent_failure"
	TypeHiveIntentFailure     = "hive.complete_intent_failure"

	// TypeConnectionError reports a rejected peer connection.
	TypeConnectionError = "hive.client.connection.error"
)

// DestinationSkills routes a message to the skill layer.
const DestinationSkills = "skills"

// DestinationAudio routes a message to the audio service.
func DestinationAudio() []string { return []string{"audio"} }

// Namespace classifies a message type.
type Namespace int

const (
	// NamespaceInternal types are left to the default relay behaviour.
	NamespaceInternal Namespace = iota
	// NamespacePeerControl types have an explicit rewrite or routing rule.
	NamespacePeerControl
	// NamespacePeer types are forwarded to the skill layer unchanged.
	NamespacePeer
)

func (n Namespace) String() string {
	switch n {
	case NamespacePeerControl:
		return "peer_control"
	case NamespacePeer:
		return "peer"
	default:
		return "internal"
	}
}
