// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package anonymize

// Pseudonym pools. Entries are single words so the restore pass can match
// them word by word. Names that are also common French words (Rose,
// Claire, Roux, Bonnet) are left out: the restore pass would otherwise
// turn ordinary words of a reply into the patient's name.
var (
	femaleGivenNames = []string{
		"Sophie", "Julie", "Emma", "Alice", "Chloé", "Manon", "Pauline", "Amandine",
		"Élise", "Margaux", "Lucie", "Hélène", "Agathe", "Inès", "Louise", "Noémie",
		"Juliette", "Mathilde", "Clémence", "Anaïs", "Eva", "Léonie", "Nina", "Zoé",
	}

	maleGivenNames = []string{
		"Thomas", "Julien", "Antoine", "Hugo", "Lucas", "Florian", "Paul", "Mathis",
		"Grégoire", "Étienne", "Victor", "Adrien", "Baptiste", "Rémi", "Gabriel", "Arthur",
		"Killian", "Quentin", "Mathéo", "Jules", "Théo", "Bastien", "Cédric", "Damien",
	}

	neutralGivenNames = []string{
		"Camille", "Dominique", "Claude", "Sacha", "Alix", "Charlie", "Morgan", "Gaël",
		"Maxence", "Andréa", "Lou", "Noa", "Sasha", "Yael", "Ariel", "Jessy",
	}

	familyNames = []string{
		"Dubois", "Moreau", "Laurent", "Lefebvre", "Leroy", "Vasseur", "Bertrand", "Morel",
		"Fournier", "Girard", "Tessier", "Dupont", "Lambert", "Leclerc", "Rousseau", "Faure",
		"Hamon", "Guérin", "Boyer", "Garnier", "Lemoine", "Legrand", "Gauthier", "Perrin",
		"Perrot", "Morin", "Roussel", "Mathieu", "Lemaire", "Dumas", "Masson", "Guillot",
		"Schmitt", "Lebrun", "Renaud", "Arnaud", "Besson", "Royer", "Aubert", "Weber",
	}
)

// givenPool returns the given-name pool for g.
func givenPool(g Gender) []string {
	switch g {
	case GenderFemale:
		return femaleGivenNames
	case GenderMale:
		return maleGivenNames
	default:
		return neutralGivenNames
	}
}
