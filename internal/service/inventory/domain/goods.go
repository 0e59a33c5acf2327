package domain

import (
	"strings"

	"github.com/pkg/errors"
)

// GoodsType 商品类型，决定由哪个库存后端处理
type GoodsType string

const (
	GoodsTypeBlindBox   GoodsType = "BLIND_BOX"
	GoodsTypeCollection GoodsType = "COLLECTION"
)

// GoodsTypes 返回全部受支持的商品类型
func GoodsTypes() []GoodsType {
	return []GoodsType{GoodsTypeBlindBox, GoodsTypeCollection}
}

// ParseGoodsType 解析商品类型，大小写不敏感
func ParseGoodsType(s string) (GoodsType, error) {
	t := GoodsType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", errors.Wrapf(ErrUnsupportedGoodsType, "%q", s)
	}
	return t, nil
}

func (t GoodsType) Valid() bool {
	switch t {
	case GoodsTypeBlindBox, GoodsTypeCollection:
		return true
	}
	return false
}

func (t GoodsType) String() string {
	return string(t)
}
