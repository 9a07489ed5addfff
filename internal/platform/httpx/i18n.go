package httpx

import (
	"net/http"

	"golang.org/x/text/language"
)

var (
	supportedLanguages = []language.Tag{language.English, language.SimplifiedChinese}
	languageMatcher    = language.NewMatcher(supportedLanguages)
)

var zhTitles = map[string]string{
	"Not Found":           "资源不存在",
	"Duplicate":           "数据重复",
	"Validation Failed":   "参数校验失败",
	"Forbidden":           "无访问权限",
	"Unauthorized":        "认证失败",
	"Invalid Credentials": "用户名或密码错误",
	"Account Disabled":    "用户账户已被禁用",
	"Account Locked":      "用户账户已被锁定",
	"Too Many Attempts":   "尝试次数过多，请稍后再试",
	"Immutable":           "系统数据不可修改",
	"Internal Error":      "服务器内部错误",
}

// RequestLanguage picks the best supported language from Accept-Language.
func RequestLanguage(r *http.Request) language.Tag {
	if r == nil {
		return language.English
	}
	tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, idx, _ := languageMatcher.Match(tags...)
	return supportedLanguages[idx]
}

// Localize translates a problem title for the request's language.
func Localize(r *http.Request, title string) string {
	if RequestLanguage(r) == language.SimplifiedChinese {
		if zh, ok := zhTitles[title]; ok {
			return zh
		}
	}
	return title
}
