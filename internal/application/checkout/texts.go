package checkout

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// User-facing texts of the checkout flow
const (
	TextPaymentLink       = "💳 Перейдите по ссылке для оплаты:"
	TextPaymentReceived   = "✅ Оплата успешно получена! Отправляю фотографию без водяных знаков..."
	TextDeliveryCaption   = "✅ Спасибо за оплату! Вот ваша фотография без водяных знаков 🙌"
	TextInvoiceExpired    = "⌛ Время на оплату истекло, ссылка больше не действует.\nНажмите «Повторить оплату», чтобы получить новую."
	TextNotFound          = "❌ Изображение не найдено или уже оплачено! Сначала отправьте фотографию."
	TextPaymentFailed     = "Ошибка создания платежа. Попробуйте позже."
	TextPaymentInProgress = "⏳ Оплата в процессе. Пожалуйста, подождите подтверждения."
	TextAlreadySent       = "✅ Изображение уже отправлено! Хотите обработать ещё одну фотографию?"
	TextInvalidRequest    = "❌ Неверный формат запроса!"

	DeliverableFileName = "photo_clean.png"
	PreviewFileName     = "preview.png"
)

// FormatPrice renders a price without trailing zeros ("490", "490.5")
func FormatPrice(price decimal.Decimal) string {
	return price.String()
}

// PreviewCaption is shown under the watermarked preview
func PreviewCaption(price decimal.Decimal) string {
	return fmt.Sprintf("✅ Готово — пример с водяными знаками.\n\n"+
		"💰 Полная версия без водяных знаков — %s₽\n"+
		"Нажмите кнопку ниже, чтобы оплатить.", FormatPrice(price))
}

// FollowUpText invites the user to process another photo
func FollowUpText(price decimal.Decimal) string {
	return fmt.Sprintf("📸 Хотите обработать ещё одну фотографию?\n"+
		"Просто отправьте её в чат 👇\n\n"+
		"💰 Стоимость обработки: %s₽", FormatPrice(price))
}
