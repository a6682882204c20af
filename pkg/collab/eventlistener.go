package collab

// EventListener receives lifecycle events for a Call. All methods must
// return promptly and must never be invoked while an internal engine lock is
// held (§5 shared-resource policy) — implementations that block will stall
// whichever goroutine is currently driving the call.
type EventListener interface {
	CallStart(callID uint64, method, url string)
	CallEnd(callID uint64)
	CallFailed(callID uint64, err error)

	DNSStart(callID uint64, host string)
	DNSEnd(callID uint64, host string, err error)

	ConnectStart(callID uint64, addr string)
	ConnectEnd(callID uint64, addr string, protocol string, err error)

	SecureConnectStart(callID uint64)
	SecureConnectEnd(callID uint64, tlsVersion uint16, err error)

	RequestBodyStart(callID uint64)
	RequestBodyEnd(callID uint64, byteCount int64)
	ResponseBodyStart(callID uint64)
	ResponseBodyEnd(callID uint64, byteCount int64)

	ConnectionAcquired(callID uint64, addr string, reused bool)
	ConnectionReleased(callID uint64, addr string)

	RetryDecision(callID uint64, willRetry bool, reason string)
	FollowUpDecision(callID uint64, willFollow bool, statusCode int)

	DispatcherQueueStart(callID uint64)
	DispatcherExecution(callID uint64)
	DispatcherQueueEnd(callID uint64)
}

// NopEventListener implements EventListener with no-ops. Default when no
// listener is configured.
type NopEventListener struct{}

func (NopEventListener) CallStart(uint64, string, string)        {}
func (NopEventListener) CallEnd(uint64)                           {}
func (NopEventListener) CallFailed(uint64, error)                 {}
func (NopEventListener) DNSStart(uint64, string)                  {}
func (NopEventListener) DNSEnd(uint64, string, error)             {}
func (NopEventListener) ConnectStart(uint64, string)              {}
func (NopEventListener) ConnectEnd(uint64, string, string, error) {}
func (NopEventListener) SecureConnectStart(uint64)                {}
func (NopEventListener) SecureConnectEnd(uint64, uint16, error)   {}
func (NopEventListener) RequestBodyStart(uint64)                  {}
func (NopEventListener) RequestBodyEnd(uint64, int64)             {}
func (NopEventListener) ResponseBodyStart(uint64)                 {}
func (NopEventListener) ResponseBodyEnd(uint64, int64)            {}
func (NopEventListener) ConnectionAcquired(uint64, string, bool)  {}
func (NopEventListener) ConnectionReleased(uint64, string)        {}
func (NopEventListener) RetryDecision(uint64, bool, string)       {}
func (NopEventListener) FollowUpDecision(uint64, bool, int)       {}
func (NopEventListener) DispatcherQueueStart(uint64)              {}
func (NopEventListener) DispatcherExecution(uint64)               {}
func (NopEventListener) DispatcherQueueEnd(uint64)                {}
