package orchestrator

// Customer-facing messages.
const (
	msgServiceUnavailable   = "el servicio no está disponible"
	msgKindMismatch         = "el servicio no corresponde al tipo de producto"
	msgHoldFailed           = "no se pudo crear la prerreserva"
	msgRegisterFailed       = "no se pudo registrar el cliente con el proveedor"
	msgHoldExpired          = "la prerreserva expiró antes de confirmar"
	msgConfirmFailed        = "no se pudo confirmar la reserva"
	msgInvoiceFailed        = "la reserva está confirmada pero la factura no pudo generarse"
	msgInternal             = "error interno procesando la reserva"
	msgInternalAfterConfirm = "la reserva está confirmada pero su procesamiento no terminó"
	msgCancelledNoPayment   = "reserva cancelada: el pago no pudo procesarse"
	msgCancelledNoCharge    = "reserva cancelada: la compra no tiene monto a cobrar"
	msgStuckCompensation    = "el pago falló y la reserva no pudo cancelarse; será revisada manualmente"

	msgCompleted       = "compra realizada con éxito"
	msgNothingReserved = "ninguna reserva pudo completarse"
	msgPaymentFailed   = "el pago no pudo procesarse"
	msgInsufficient    = "saldo insuficiente para el total del carrito"
)
