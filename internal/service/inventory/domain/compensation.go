package domain

// ActionForTry 根据 Try 结果决定需要执行的库存变更
func ActionForTry(outcome TrySuccessType) Operation {
	switch outcome {
	case TrySuccess:
		return OpFreeze
	}
	return OpNone
}

// ActionForConfirm 根据 Confirm 结果决定需要执行的库存变更
func ActionForConfirm(outcome ConfirmSuccessType) Operation {
	switch outcome {
	case ConfirmSuccess:
		return OpUnfreezeAndSell
	}
	return OpNone
}

// ActionForCancel 根据 Cancel 结果决定补偿动作:
// 撤销冻结、撤销售出，或者空回滚与重复回滚时什么都不做
func ActionForCancel(outcome CancelSuccessType) Operation {
	switch outcome {
	case CancelAfterTry:
		return OpUnfreeze
	case CancelAfterConfirm:
		return OpReverse
	}
	return OpNone
}
