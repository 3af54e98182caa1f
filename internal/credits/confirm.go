package credits

// Decision — результат предполётной проверки баланса перед запуском
// генерации. Ворота для UI: серверное списание всё равно проверяет
// неотрицательность баланса само.
type Decision string

const (
	// DecisionProceed — кредитов достаточно, подтверждение не нужно.
	DecisionProceed Decision = "proceed"
	// DecisionConfirmRequired — после списания останется меньше порога,
	// пользователь должен явно подтвердить запуск.
	DecisionConfirmRequired Decision = "confirm_required"
	// DecisionPurchaseRequired — кредитов не хватает даже на запуск,
	// пользователя отправляем в магазин.
	DecisionPurchaseRequired Decision = "purchase_required"
)

// ConfirmIfLow решает, нужно ли подтверждение перед списанием cost
// кредитов при текущем балансе balance и пороге threshold.
func ConfirmIfLow(balance, cost, threshold int64) Decision {
	if balance < cost {
		return DecisionPurchaseRequired
	}
	if remaining := balance - cost; remaining < threshold {
		return DecisionConfirmRequired
	}
	return DecisionProceed
}
