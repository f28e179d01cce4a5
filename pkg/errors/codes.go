package errors

// 공통 에러 코드
const (
	ErrInternal        = "INTERNAL"
	ErrNotFound        = "NOT_FOUND"
	ErrInvalidArgument = "INVALID_ARGUMENT"
	ErrUnauthenticated = "UNAUTHENTICATED"
	ErrUnauthorized    = "UNAUTHORIZED"
	ErrConflict        = "CONFLICT"
	ErrTimeout         = "TIMEOUT"
	ErrNotImplemented  = "NOT_IMPLEMENTED"
	// 외부 벤더(App Store 등)가 응답하지 않을 때 사용
	ErrUnavailable = "UNAVAILABLE"
)

// CodePair는 HTTP 상태 코드와 gRPC 코드 쌍입니다
type CodePair struct {
	HTTPStatus int
	GRPCCode   int
}

var codeMapping = map[string]CodePair{
	ErrInternal:        {500, 13},
	ErrNotFound:        {404, 5},
	ErrInvalidArgument: {400, 3},
	ErrUnauthenticated: {401, 16},
	ErrUnauthorized:    {403, 7},
	ErrConflict:        {409, 6},
	ErrTimeout:         {504, 4},
	ErrNotImplemented:  {501, 12},
	ErrUnavailable:     {503, 14},
}

// GetCodeMapping은 에러 코드에 해당하는 HTTP 상태와 gRPC 코드를 반환합니다.
// 등록되지 않은 코드는 500/INTERNAL로 처리합니다.
func GetCodeMapping(code string) (int, int) {
	if pair, ok := codeMapping[code]; ok {
		return pair.HTTPStatus, pair.GRPCCode
	}
	return 500, 13
}
