package followup

import "fmt"

// maxFollowUps is how many reminder drafts a conversation gets before it is
// closed off.
const maxFollowUps = 3

// template returns the draft subject and body for the given attempt (1-based).
// Attempts beyond the range use the final template.
func template(attempt int, contactName string) (subject, body string) {
	name := contactName
	if name == "" {
		name = "klant"
	}
	switch attempt {
	case 1:
		subject = "Opvolging - Uw aanvraag"
		body = fmt.Sprintf("Beste %s,\n\nIk heb geprobeerd u telefonisch te bereiken, maar helaas kon ik u niet te pakken krijgen.\n\nHeeft u nog interesse in onze diensten? Ik help u graag verder. U kunt mij bereiken op dit e-mailadres of telefonisch.\n\nMet vriendelijke groet", name)
	case 2:
		subject = "Nogmaals: Uw aanvraag"
		body = fmt.Sprintf("Beste %s,\n\nIk heb opnieuw geprobeerd contact met u op te nemen, maar helaas zonder succes.\n\nMocht u nog steeds interesse hebben, dan hoor ik het graag. Ik sta voor u klaar.\n\nMet vriendelijke groet", name)
	default:
		subject = "Laatste bericht: Uw aanvraag"
		body = fmt.Sprintf("Beste %s,\n\nIk heb meerdere keren geprobeerd contact met u op te nemen, helaas zonder succes.\n\nIk sluit uw aanvraag voor nu af. Mocht u in de toekomst alsnog interesse hebben, dan bent u uiteraard van harte welkom om opnieuw contact met ons op te nemen.\n\nMet vriendelijke groet", name)
	}
	return subject, body
}
