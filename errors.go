// Error taxonomy for rxcore
// 错误分类体系：源错误、需求违规、缓冲区溢出与聚合错误
package rxcore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// ============================================================================
// 错误种类
// ============================================================================

// ErrorKind 流错误的种类
type ErrorKind int

const (
	// KindSourceError 生产者自身逻辑产生的错误
	KindSourceError ErrorKind = iota
	// KindDemandViolation 生产者在需求不足时发射数据，对该订阅致命
	KindDemandViolation
	// KindBufferOverflow 操作符内部有界缓冲超出容量，对该订阅致命
	KindBufferOverflow
)

// String 返回错误种类的名称
func (k ErrorKind) String() string {
	switch k {
	case KindSourceError:
		return "SourceError"
	case KindDemandViolation:
		return "DemandViolation"
	case KindBufferOverflow:
		return "BufferOverflow"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// ============================================================================
// StreamError 流错误
// ============================================================================

// StreamError 带种类标签的流错误，作为终止事件沿下游传播
type StreamError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

// Error 实现error接口
func (e *StreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap 返回底层错误
func (e *StreamError) Unwrap() error {
	return e.Cause
}

// NewSourceError 包装生产者自身逻辑产生的错误
func NewSourceError(cause error) *StreamError {
	return &StreamError{Kind: KindSourceError, Message: "producer failure", Cause: cause}
}

// NewDemandViolation 创建需求违规错误
func NewDemandViolation(message string) *StreamError {
	return &StreamError{Kind: KindDemandViolation, Message: message}
}

// NewBufferOverflow 创建缓冲区溢出错误
func NewBufferOverflow(message string) *StreamError {
	return &StreamError{Kind: KindBufferOverflow, Message: message}
}

// IsDemandViolation 检查错误链中是否存在需求违规
func IsDemandViolation(err error) bool {
	var se *StreamError
	return errors.As(err, &se) && se.Kind == KindDemandViolation
}

// IsBufferOverflow 检查错误链中是否存在缓冲区溢出
func IsBufferOverflow(err error) bool {
	var se *StreamError
	return errors.As(err, &se) && se.Kind == KindBufferOverflow
}

// ============================================================================
// AggregateError 聚合错误
// ============================================================================

// AggregateError 包装多个底层错误，保留每个错误及其来源下标的顺序。
// 由MergeDelayError一类延迟错误的操作符产生。
type AggregateError struct {
	// Errors 按到达顺序收集的底层错误
	Errors []error
	// Indices 每个错误对应的源下标，与Errors一一对应
	Indices []int
}

// Error 实现error接口
func (e *AggregateError) Error() string {
	messages := lo.Map(e.Errors, func(err error, i int) string {
		return fmt.Sprintf("source[%d]: %v", e.Indices[i], err)
	})
	return fmt.Sprintf("AggregateError(%d): %s", len(e.Errors), strings.Join(messages, "; "))
}

// Unwrap 返回全部底层错误，支持errors.Is/As遍历
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// NewAggregateError 创建聚合错误；errs与indices长度必须一致
func NewAggregateError(errs []error, indices []int) *AggregateError {
	return &AggregateError{Errors: errs, Indices: indices}
}
