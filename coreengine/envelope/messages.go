package envelope

import "fmt"

// User-facing fixed answers.
const (
	MsgNoQuestion = "No recibi una pregunta para responder."

	MsgInsufficientEvidence = "Evidencia insuficiente para responder con certeza usando solo el contexto recuperado.\n" +
		"Reformula la consulta o solicita mas contexto normativo especifico."

	MsgModelUnavailable = "El servicio de modelos no esta disponible en este momento. Intenta de nuevo mas tarde."

	MsgRateLimited = "El servicio de modelos alcanzo su limite de solicitudes. Intenta de nuevo en unos minutos."

	MsgMemoryUpdated = "Listo. He guardado esa informacion en tu perfil."

	MsgStageFailed = "No fue posible completar la consulta."
)

// InsufficientEvidenceWithReason is the evaluator's fallback answer.
func InsufficientEvidenceWithReason(question, reason string) string {
	return fmt.Sprintf(
		"Evidencia insuficiente para responder con certeza usando solo el contexto recuperado.\n"+
			"Consulta: %s\n"+
			"Motivo: %s\n"+
			"Sugerencia: reformula la pregunta o solicita documentos mas especificos.",
		question, reason,
	)
}

// ProviderFailureMessage returns the apology shown for a provider failure.
func ProviderFailureMessage(reason FailureReason) string {
	if reason == FailureRateLimited {
		return MsgRateLimited
	}
	return MsgModelUnavailable
}
