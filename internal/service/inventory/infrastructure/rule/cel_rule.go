package rule

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"stockhub/internal/pkg/logger"
	"stockhub/internal/service/inventory/domain"
)

// CELRuleEngine 按商品类型执行购买规则，实现 port.PurchaseRule。
// 规则是返回 bool 的 CEL 表达式，可用变量: quantity (int), goods_id (string), goods_type (string)。
// 未配置规则的商品类型一律放行。
type CELRuleEngine struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[domain.GoodsType]cel.Program
}

func NewCELRuleEngine(rules map[string]string) (*CELRuleEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("quantity", cel.IntType),
		cel.Variable("goods_id", cel.StringType),
		cel.Variable("goods_type", cel.StringType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel env")
	}
	e := &CELRuleEngine{env: env, programs: map[domain.GoodsType]cel.Program{}}
	if err := e.Reload(rules); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload 编译全部规则后整体替换。任一规则编译失败时保留旧规则。
func (e *CELRuleEngine) Reload(rules map[string]string) error {
	programs := make(map[domain.GoodsType]cel.Program, len(rules))
	for key, expr := range rules {
		goodsType, err := domain.ParseGoodsType(key)
		if err != nil {
			return errors.Wrap(err, "rule key")
		}
		if strings.TrimSpace(expr) == "" {
			continue
		}
		prg, err := e.compile(expr)
		if err != nil {
			return errors.Wrapf(err, "rule for %s", goodsType)
		}
		programs[goodsType] = prg
	}

	e.mu.Lock()
	e.programs = programs
	e.mu.Unlock()

	logger.L().Info().Strs("goods_types", ruleKeys(programs)).Msg("purchase rules loaded")
	return nil
}

func (e *CELRuleEngine) compile(expr string) (cel.Program, error) {
	ast, iss := e.env.Compile(expr)
	if iss.Err() != nil {
		return nil, iss.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errors.Errorf("expression must return bool, got %s", ast.OutputType())
	}
	return e.env.Program(ast)
}

func (e *CELRuleEngine) Allow(ctx context.Context, goodsType domain.GoodsType, goodsID string, quantity int64) (bool, error) {
	e.mu.RLock()
	prg, ok := e.programs[goodsType]
	e.mu.RUnlock()
	if !ok {
		return true, nil
	}

	out, _, err := prg.ContextEval(ctx, map[string]any{
		"quantity":   quantity,
		"goods_id":   goodsID,
		"goods_type": goodsType.String(),
	})
	if err != nil {
		return false, errors.Wrapf(err, "evaluate rule for %s", goodsType)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, errors.Errorf("rule for %s returned %T", goodsType, out.Value())
	}
	return allowed, nil
}

func ruleKeys(programs map[domain.GoodsType]cel.Program) []string {
	keys := make([]string, 0, len(programs))
	for k := range programs {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)
	return keys
}
