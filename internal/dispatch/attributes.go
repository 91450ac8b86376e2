package dispatch

import (
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
)

// OJS message attribute names. SQS allows max 10 message attributes per message.
const (
	AttrOJSSpecVersion = "ojs.specversion"
	AttrOJSID          = "ojs.id"
	AttrOJSType        = "ojs.type"
	AttrOJSTenant      = "ojs.tenant"
	AttrOJSPolicy      = "ojs.policy"
	AttrOJSAttempt     = "ojs.attempt"
	AttrOJSIdemKey     = "ojs.idempotency_key"
)

// BuildMessageAttributes creates SQS message attributes for the next attempt of op.
func BuildMessageAttributes(op *core.RetryOperation) map[string]types.MessageAttributeValue {
	attrs := map[string]types.MessageAttributeValue{
		AttrOJSSpecVersion: stringAttr(core.OJSVersion),
		AttrOJSID:          stringAttr(op.ID),
		AttrOJSTenant:      stringAttr(op.TenantID),
		AttrOJSPolicy:      stringAttr(op.PolicyID),
		AttrOJSAttempt: {
			DataType:    aws.String("Number"),
			StringValue: aws.String(strconv.Itoa(op.AttemptNumber + 1)),
		},
	}
	if op.OperationType != "" {
		attrs[AttrOJSType] = stringAttr(op.OperationType)
	}
	if op.IdempotencyKey != "" {
		attrs[AttrOJSIdemKey] = stringAttr(op.IdempotencyKey)
	}
	return attrs
}

func stringAttr(v string) types.MessageAttributeValue {
	return types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(v),
	}
}
