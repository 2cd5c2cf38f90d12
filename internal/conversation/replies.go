package conversation

import (
	"fmt"
	"strings"
)

// Outbound reply templates. Plain strings only; the delivery transport is
// the caller's problem.

const (
	replyMenu = "Olá! Sou o assistente virtual da clínica. Como posso ajudar?\n" +
		"1️⃣ Agendar consulta\n" +
		"2️⃣ Remarcar consulta\n" +
		"3️⃣ Cancelar consulta\n" +
		"4️⃣ Entrar na lista de espera\n" +
		"5️⃣ Falar com a secretária"

	replyMenuRetry = "Desculpe, não entendi. Responda com o número ou o nome da opção:\n" +
		"1️⃣ Agendar  2️⃣ Remarcar  3️⃣ Cancelar  4️⃣ Lista de espera  5️⃣ Secretária"

	replyAskCPF = "Para continuar, me informe seu CPF (somente números)."

	replyCPFMalformed = "Esse CPF não parece válido. Confira os 11 dígitos e envie novamente."

	replyHandoff = "Vou transferir você para nossa equipe. Uma atendente entrará em contato em breve. 💙"

	replyTransientApology = "Desculpe, estamos com instabilidade no momento. Pode tentar novamente em instantes?"

	replyAskRescheduleDetails = "Certo! Me diga qual é a consulta atual (dia e horário) e para quando você gostaria de remarcar."

	replyAskCancelReason = "Tudo bem. Pode me dizer o motivo do cancelamento? Isso ajuda nossa equipe."

	replyAskWaitlistConfirm = "Posso incluir você na lista de espera? Avisaremos assim que surgir um horário. Responda SIM para confirmar."

	replyNoAvailability = "No momento não há dias disponíveis para agendamento. Quer entrar na lista de espera? Responda 4 para isso ou escolha outra opção do menu."

	replyRescheduleQueued = "Anotado! Sua solicitação de remarcação foi registrada e nossa equipe vai confirmar em breve. ✅"

	replyCancelQueued = "Entendido. Seu pedido de cancelamento foi registrado e será confirmado pela nossa equipe. ✅"

	replyWaitlistQueued = "Pronto! Você está na lista de espera e avisaremos assim que abrir um horário. ✅"

	replyBookingQueued = "Perfeito! Seu pedido de agendamento foi registrado e nossa equipe vai confirmar em breve. ✅"

	replyBookingConfirmed = "Consulta agendada com sucesso! Até breve. ✅"

	replyBookingPendingFollowup = "Recebemos sua confirmação! Vamos confirmar os detalhes com você em breve."

	replyBackToMenu = "Sem problemas! O que você gostaria de fazer?"
)

func replyGreetName(name string) string {
	first := strings.Fields(name)
	if len(first) == 0 {
		return "Cadastro encontrado!"
	}
	return fmt.Sprintf("Cadastro encontrado, %s!", first[0])
}

func replyCPFNotFound(attemptsLeft int) string {
	if attemptsLeft == 1 {
		return "Não encontrei esse CPF no nosso cadastro. Você tem mais 1 tentativa antes de eu te passar para a secretária."
	}
	return fmt.Sprintf("Não encontrei esse CPF no nosso cadastro. Verifique e envie novamente (%d tentativas restantes).", attemptsLeft)
}

func replyDayList(days []string) string {
	var b strings.Builder
	b.WriteString("Estes são os dias disponíveis:\n")
	for i, day := range days {
		fmt.Fprintf(&b, "%d. %s\n", i+1, FormatDay(day))
	}
	b.WriteString("Responda com o número ou a data desejada.")
	return b.String()
}

func replyTimeList(day string, times []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Horários disponíveis para %s:\n", FormatDay(day))
	for i, t := range times {
		fmt.Fprintf(&b, "%d. %s\n", i+1, t)
	}
	b.WriteString("Responda com o número ou o horário desejado.")
	return b.String()
}

func replyOfferRetry(list string) string {
	return "Essa opção não está disponível. " + list
}

func replyConfirm(name, day, timeOfDay string) string {
	who := ""
	if first := strings.Fields(name); len(first) > 0 {
		who = first[0] + ", "
	}
	return fmt.Sprintf("%sconfirma a consulta para %s às %s? Responda SIM para confirmar ou NÃO para voltar ao menu.",
		who, FormatDay(day), timeOfDay)
}
