package health

import "context"

// PingCheck reports unhealthy when ping fails. A nil ping means the
// component has not been opened yet, which is degraded rather than down.
func PingCheck(ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) Check {
		if ping == nil {
			return Check{Status: StatusDegraded, Message: "not opened"}
		}
		if err := ping(ctx); err != nil {
			return Check{Status: StatusUnhealthy, Message: err.Error()}
		}
		return Check{Status: StatusHealthy, Message: "connected"}
	}
}

// StaticCheck always reports healthy with the given details.
func StaticCheck(details map[string]any) CheckFunc {
	return func(context.Context) Check {
		return Check{Status: StatusHealthy, Details: details}
	}
}
