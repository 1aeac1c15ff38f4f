package shared

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// QueryInt 는 양의 정수 쿼리 파라미터를 파싱한다.
// 값이 없으면 defaultValue 를, maxValue 를 넘으면 maxValue 를 돌려준다.
func QueryInt(c *gin.Context, name string, defaultValue int, maxValue int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	if maxValue > 0 && parsed > maxValue {
		return maxValue, nil
	}
	return parsed, nil
}
