package relay

// DefaultPromoMessage is sent to every sender with auto-respond enabled.
const DefaultPromoMessage = `Este servicio tiene un costo mensual de solo $9.99 USD, lo que te da acceso completo a las funciones 24/7 de apoyo y acompañamiento emocional.
Sin embargo, si prefieres hacer un pago anual, tenemos una promoción del 50% de descuento.

Esto significa que el pago por todo el año sería solo $59.99 USD, ahorrándote un total de $60 USD durante el año completo.

Para seleccionar el plan mensual de $9.99 USD al mes.
👇🏻Haz Click Aquí 👇🏻

🔗 https://pay.hotmart.com/V95372989N?off=8v2fi8ts&checkoutMode=10 🔗
----------------------------------
Para seleccionar el plan anual con el 50% de descuento, por un total de $59.99 USD al año
👇🏻Haz Click Aquí 👇🏻

🔗 https://pay.hotmart.com/V95372989N?off=j68zq7ud&checkoutMode=10 🔗`

// DefaultApologyMessage is sent when the responder fails.
const DefaultApologyMessage = "An error occurred while processing your message."

// DefaultReminder is appended to generated replies.
const DefaultReminder = "Presiona el botón 'Menu' para ver las opciones."

// reminderSeparator joins a generated reply and the reminder.
const reminderSeparator = "\n\n"
