package engine

// 执行状态机：每个交易意图在单个 tick 内走完其中一条路径。
//
//	IDLE → SIGNALED → RISK_CHECKED → SUBMITTING → SETTLED
//	                 ↘ REJECTED（风控拒绝，不计节流）
//	                               ↘ REJECTED（节流拒绝，不计额度）
//	                                            ↘ FAILED（网关失败，已计节流）
type State string

const (
	StateIdle        State = "IDLE"
	StateSignaled    State = "SIGNALED"
	StateRiskChecked State = "RISK_CHECKED"
	StateSubmitting  State = "SUBMITTING"
	StateSettled     State = "SETTLED"
	StateRejected    State = "REJECTED"
	StateFailed      State = "FAILED"
)
