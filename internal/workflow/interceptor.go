package workflow

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/temporal"

	"github.com/edvin/dbaas/internal/core"
)

// ErrorTypingInterceptor is a Temporal worker interceptor that gives every
// activity failure an error type. Classified engine errors use their code,
// anything else uses the activity name.
type ErrorTypingInterceptor struct {
	interceptor.WorkerInterceptorBase
}

func (e *ErrorTypingInterceptor) InterceptActivity(
	ctx context.Context,
	next interceptor.ActivityInboundInterceptor,
) interceptor.ActivityInboundInterceptor {
	return &errorTypingActivityInterceptor{next: next}
}

type errorTypingActivityInterceptor struct {
	interceptor.ActivityInboundInterceptorBase
	next interceptor.ActivityInboundInterceptor
}

func (e *errorTypingActivityInterceptor) Init(outbound interceptor.ActivityOutboundInterceptor) error {
	return e.next.Init(outbound)
}

func (e *errorTypingActivityInterceptor) ExecuteActivity(
	ctx context.Context,
	in *interceptor.ExecuteActivityInput,
) (interface{}, error) {
	result, err := e.next.ExecuteActivity(ctx, in)
	if err != nil {
		return result, typeError(err, activity.GetInfo(ctx).ActivityType.Name)
	}
	return result, nil
}

// typeError wraps err in an application error. Errors that already carry a
// type pass through unchanged. Validation and not-found engine errors will
// not succeed on retry and are marked non-retryable.
func typeError(err error, activityName string) error {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.Type() != "" {
		return err
	}

	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		switch coreErr.Kind {
		case core.KindValidation, core.KindNotFound:
			return temporal.NewNonRetryableApplicationError(err.Error(), coreErr.Code, err)
		}
		return temporal.NewApplicationError(err.Error(), coreErr.Code, err)
	}
	return temporal.NewApplicationError(err.Error(), activityName, err)
}
