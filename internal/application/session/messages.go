package session

import "fmt"

const (
	msgGenericReprompt      = "Estou aqui! 🙂 Me mande uma frase ou uma pergunta e vamos praticar."
	msgApology              = "Desculpe, tive um probleminha agora. 😕 Pode repetir sua mensagem?"
	msgAudioAskPhrase       = "Qual frase você quer ouvir? Escreva assim: *áudio: Hello, my name is*"
	msgConversationOn       = "Modo conversa ativado! 💬 Pode falar sobre o que quiser. Quando quiser voltar, diga *modo aula*."
	msgConversationDisabled = "O modo conversa ainda não está disponível para você. Vamos continuar a aula! 📘"
	msgLessonOn             = "De volta à aula! 📘"
)

func audioFallback(phrase, hint string) string {
	if hint == "" {
		return fmt.Sprintf("Não consegui gerar o áudio agora. 😕 A frase é: *%s*", phrase)
	}
	return fmt.Sprintf("Não consegui gerar o áudio agora. 😕 A frase é: *%s*\n🗣️ Pronúncia: %s", phrase, hint)
}
