package grpc

import (
	"unicode/utf8"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
)

// Request bounds enforced before a turn starts.
const (
	MaxQuestionRunes    = 2000
	MaxIterationsLimit  = envelope.MaxIterationsLimit
	maxComponentNameLen = 64
)

// askArgs is a validated Ask request.
type askArgs struct {
	question      string
	maxIterations *int
}

// parseAskRequest validates the Ask payload. An empty question is valid and
// answered by the workflow itself.
func parseAskRequest(req *structpb.Struct) (askArgs, error) {
	if req == nil {
		return askArgs{}, InvalidArgument("request")
	}
	fields := req.GetFields()

	var args askArgs
	if v, ok := fields["question"]; ok {
		s, isString := v.GetKind().(*structpb.Value_StringValue)
		if !isString {
			return askArgs{}, status.Error(codes.InvalidArgument, "question must be a string")
		}
		args.question = s.StringValue
	}
	if utf8.RuneCountInString(args.question) > MaxQuestionRunes {
		return askArgs{}, ResourceExhausted("question", "2000 characters")
	}

	if v, ok := fields["max_iterations"]; ok {
		n, isNumber := v.GetKind().(*structpb.Value_NumberValue)
		if !isNumber || n.NumberValue != float64(int(n.NumberValue)) {
			return askArgs{}, status.Error(codes.InvalidArgument, "max_iterations must be an integer")
		}
		iterations := int(n.NumberValue)
		if iterations < 0 || iterations > MaxIterationsLimit {
			return askArgs{}, status.Errorf(codes.OutOfRange, "max_iterations must be between 0 and %d", MaxIterationsLimit)
		}
		args.maxIterations = &iterations
	}
	return args, nil
}

// parseHealthRequest returns the component name, "" meaning the whole service.
func parseHealthRequest(req *structpb.Struct) (string, error) {
	if req == nil {
		return "", nil
	}
	component := req.GetFields()["component"].GetStringValue()
	if len(component) > maxComponentNameLen {
		return "", status.Error(codes.InvalidArgument, "component name too long")
	}
	return component, nil
}

// InvalidArgument returns codes.InvalidArgument for a missing field.
func InvalidArgument(fieldName string) error {
	return status.Errorf(codes.InvalidArgument, "%s is required", fieldName)
}

// Internal wraps an unexpected failure.
func Internal(operation string, cause error) error {
	return status.Errorf(codes.Internal, "%s failed: %v", operation, cause)
}

// ResourceExhausted reports a request over a size limit.
func ResourceExhausted(resourceType, limit string) error {
	return status.Errorf(codes.ResourceExhausted, "%s limit exceeded: %s", resourceType, limit)
}

// Unavailable reports a dependency that cannot serve right now.
func Unavailable(component string, cause error) error {
	return status.Errorf(codes.Unavailable, "%s unavailable: %v", component, cause)
}
