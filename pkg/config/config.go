// Package config는 YAML로 읽은 설정 위에 환경 변수 오버레이를 적용합니다.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Source는 키 기반 설정 조회 인터페이스입니다.
type Source interface {
	IsSet(key string) bool
	GetString(key string) string
	GetInt(key string) int
	GetBool(key string) bool
}

type viperSource struct {
	v *viper.Viper
}

// NewEnvSource는 prefix가 붙은 환경 변수를 읽는 Source를 만듭니다.
// 키 "appstore.shared_secret"은 PREFIX_APPSTORE_SHARED_SECRET 변수에 대응합니다.
func NewEnvSource(prefix string) Source {
	v := viper.New()
	v.SetEnvPrefix(strings.ToUpper(prefix))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &viperSource{v: v}
}

func (s *viperSource) IsSet(key string) bool {
	return s.v.IsSet(key)
}

func (s *viperSource) GetString(key string) string { return s.v.GetString(key) }

func (s *viperSource) GetInt(key string) int { return s.v.GetInt(key) }

func (s *viperSource) GetBool(key string) bool { return s.v.GetBool(key) }

// Binding은 설정 키와 대상 필드를 연결합니다.
type Binding struct {
	Key    string
	String *string
	Int    *int
	Bool   *bool
}

// Overlay는 Source에 값이 존재하는 바인딩만 대상 필드에 덮어씁니다.
func Overlay(src Source, bindings ...Binding) {
	for _, b := range bindings {
		if !src.IsSet(b.Key) {
			continue
		}
		switch {
		case b.String != nil:
			*b.String = src.GetString(b.Key)
		case b.Int != nil:
			*b.Int = src.GetInt(b.Key)
		case b.Bool != nil:
			*b.Bool = src.GetBool(b.Key)
		}
	}
}
