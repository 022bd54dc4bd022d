package domain

// HandlerResult 消息处理的四种结果之一，由未导出方法封闭
type HandlerResult interface {
	isHandlerResult()
	// Outcome 指标标签
	Outcome() string
}

// ImmediateResponse 已自动生成的应答
type ImmediateResponse struct {
	Envelope *MessageEnvelope
}

// AwaitingManualResponse 请求已保存，等待人工回复
type AwaitingManualResponse struct {
	Stored *Message
}

// NoResponseNeeded 应答与通告不需要回复
type NoResponseNeeded struct{}

// ProcessingError 校验失败，Code 为 i18n 键
type ProcessingError struct {
	Code    string
	Message string
}

func (ImmediateResponse) isHandlerResult()      {}
func (AwaitingManualResponse) isHandlerResult() {}
func (NoResponseNeeded) isHandlerResult()       {}
func (*ProcessingError) isHandlerResult()       {}

func (ImmediateResponse) Outcome() string      { return "immediate" }
func (AwaitingManualResponse) Outcome() string { return "awaiting_manual" }
func (NoResponseNeeded) Outcome() string       { return "no_response" }
func (*ProcessingError) Outcome() string       { return "rejected" }

func (e *ProcessingError) Error() string { return e.Code + ": " + e.Message }

// NewProcessingError 构造校验失败
func NewProcessingError(code, message string) *ProcessingError {
	return &ProcessingError{Code: code, Message: message}
}

// i18n 错误码
const (
	ErrCodeUnknownMessage    = "gt.net.message.code.unknown"
	ErrCodeNoHandler         = "gt.net.message.handler.missing"
	ErrCodeUnknownPeer       = "gt.net.peer.unknown"
	ErrCodeLocalPeerMissing  = "gt.net.local.peer.missing"
	ErrCodeInvalidMessage    = "gt.net.message.invalid"
	ErrCodeReplyUnmatched    = "gt.net.reply.unmatched"
	ErrCodeNoSpread          = "gt.net.serverlist.spread.disabled"
	ErrCodeInvalidEntityKind = "gt.net.entity.kind.invalid"
	ErrCodeEntityKindClosed  = "gt.net.entity.kind.closed"
	ErrCodeInvalidAccept     = "gt.net.accept.mode.invalid"
	ErrCodeInvalidVisibility = "gt.net.visibility.invalid"
	ErrCodeCoolingOff        = "gt.net.request.cooling.off"
	ErrCodeNotOffered        = "gt.net.history.not.offered"
	ErrCodeInvalidPayload    = "gt.net.payload.invalid"
)
