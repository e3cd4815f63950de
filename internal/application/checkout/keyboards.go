package checkout

import "github.com/imagebot/backend/internal/domain/messaging"

const (
	buttonPay        = "💳 Оплатить"
	buttonProcessing = "⏳ Оплата в процессе..."
	buttonPayLink    = "Оплатить в ЮKassa"
	buttonPaid       = "✅ Оплата прошла"
	buttonRetry      = "🔄 Повторить оплату"
	buttonNotLike    = "Не нравится результат"
)

func targeted(action messaging.Action, userID int64, key string) string {
	return messaging.Payload{Action: action, UserID: userID, AssetKey: key}.Encode()
}

func notLikeButton() messaging.Button {
	return messaging.CallbackButton(buttonNotLike, string(messaging.ActionNotLike))
}

// ResultKeyboard is attached to a fresh preview
func ResultKeyboard(userID int64, key string) *messaging.Keyboard {
	return messaging.NewKeyboard(
		messaging.CallbackButton(buttonPay, targeted(messaging.ActionPay, userID, key)),
		notLikeButton(),
	)
}

// ProcessingKeyboard replaces the pay button while an invoice is open;
// pressing it checks the payment status
func ProcessingKeyboard(userID int64, key string) *messaging.Keyboard {
	return messaging.NewKeyboard(
		messaging.CallbackButton(buttonProcessing, targeted(messaging.ActionCheck, userID, key)),
		notLikeButton(),
	)
}

// PaymentLinkKeyboard opens the gateway's confirmation page
func PaymentLinkKeyboard(url string) *messaging.Keyboard {
	return messaging.NewKeyboard(messaging.URLButton(buttonPayLink, url))
}

// PaidKeyboard marks a delivered preview
func PaidKeyboard() *messaging.Keyboard {
	return messaging.NewKeyboard(
		messaging.CallbackButton(buttonPaid, string(messaging.ActionPaidDone)),
		notLikeButton(),
	)
}

// RetryKeyboard offers a new invoice after expiry
func RetryKeyboard(userID int64, key string) *messaging.Keyboard {
	return messaging.NewKeyboard(
		messaging.CallbackButton(buttonRetry, targeted(messaging.ActionRetry, userID, key)),
		notLikeButton(),
	)
}
