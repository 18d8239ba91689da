// ABOUTME: Scripted conversations and retrieval queries for the recall benchmark
// ABOUTME: Each query names the turn whose window must be retrieved and the text it should contain

package recall

import "github.com/harper/recall/internal/models"

// Scenario is one scripted conversation with retrieval queries
type Scenario struct {
	ID          string
	Name        string
	Description string
	Turns       []models.TurnInput
	Queries     []Query
}

// Query is one retrieval check against a scenario
type Query struct {
	Text string
	// ExpectedTurn is the ledger index a relevant window must cover
	ExpectedTurn int
	// ExpectedContext must appear in the text of the retrieved windows
	ExpectedContext []string
}

func user(content string) models.TurnInput {
	return models.TurnInput{Role: string(models.RoleUser), Content: content}
}

func assistant(content string) models.TurnInput {
	return models.TurnInput{Role: string(models.RoleAssistant), Content: content}
}

// GetTravelScenario is a trip planning chat where early details are asked for late
func GetTravelScenario() Scenario {
	return Scenario{
		ID:          "travel",
		Name:        "Trip planning recall",
		Description: "Details mentioned early in a long planning chat are queried at the end",
		Turns: []models.TurnInput{
			user("We are planning a week in Lisbon in May."),
			assistant("Great choice. May is warm and not too crowded."),
			user("Which neighborhood should we stay in?"),
			assistant("Alfama has small guesthouses close to the river and the tram 28 line."),
			user("My partner is vegetarian, any food tips?"),
			assistant("Try the vegetarian tasca near Principe Real and the market at Time Out."),
			user("How do we get from the airport?"),
			assistant("The red metro line reaches the city center in about twenty minutes."),
			user("Is a day trip to Sintra worth it?"),
			assistant("Yes, take the train from Rossio and visit Pena Palace early."),
			user("What should we pack?"),
			assistant("Comfortable shoes for the hills and a light jacket for evenings."),
		},
		Queries: []Query{
			{Text: "guesthouses river neighborhood", ExpectedTurn: 3, ExpectedContext: []string{"Alfama"}},
			{Text: "vegetarian food", ExpectedTurn: 5, ExpectedContext: []string{"tasca"}},
			{Text: "airport metro", ExpectedTurn: 7, ExpectedContext: []string{"red metro line"}},
			{Text: "Sintra train", ExpectedTurn: 9, ExpectedContext: []string{"Rossio"}},
		},
	}
}

// GetDeployScenario is an incident chat where the root cause is stated once
func GetDeployScenario() Scenario {
	return Scenario{
		ID:          "deploy",
		Name:        "Incident debugging recall",
		Description: "The root cause and the fix are buried between unrelated status updates",
		Turns: []models.TurnInput{
			user("The deploy pipeline went red after the merge this morning."),
			assistant("Which stage fails, build or integration tests?"),
			user("Integration tests time out talking to the database."),
			assistant("Check whether the connection pool size changed in the merge."),
			user("It did, someone set max connections to 2."),
			assistant("That explains the timeouts; restore the pool to 20 connections."),
			user("Also the staging certificate expires next Friday."),
			assistant("Renew it with the ACME job before Thursday to be safe."),
			user("Tests are green again after restoring the pool."),
			assistant("Good. Add an alert on pool saturation so this shows up earlier."),
		},
		Queries: []Query{
			{Text: "why did integration tests time out", ExpectedTurn: 4, ExpectedContext: []string{"max connections"}},
			{Text: "certificate renew", ExpectedTurn: 7, ExpectedContext: []string{"ACME"}},
			{Text: "saturation alert", ExpectedTurn: 9, ExpectedContext: []string{"pool saturation"}},
		},
	}
}

// GetRecipeScenario has a preference that changes midway through the chat
func GetRecipeScenario() Scenario {
	return Scenario{
		ID:          "recipes",
		Name:        "Preference update recall",
		Description: "A dietary constraint is introduced after several recipe turns",
		Turns: []models.TurnInput{
			user("Suggest a quick weeknight dinner."),
			assistant("A lemon garlic pasta takes fifteen minutes."),
			user("Something with more protein?"),
			assistant("Add chickpeas roasted with smoked paprika."),
			user("From now on, no gluten please, I was just diagnosed."),
			assistant("Understood. Swap the pasta for rice noodles or polenta."),
			user("What dessert goes with that?"),
			assistant("Baked pears with cinnamon and yogurt are naturally gluten free."),
		},
		Queries: []Query{
			{Text: "gluten diagnosis", ExpectedTurn: 4, ExpectedContext: []string{"no gluten"}},
			{Text: "chickpeas paprika protein", ExpectedTurn: 3, ExpectedContext: []string{"smoked paprika"}},
			{Text: "dessert pears", ExpectedTurn: 7, ExpectedContext: []string{"cinnamon"}},
		},
	}
}

// GetScenarios returns every scenario in run order
func GetScenarios() []Scenario {
	return []Scenario{
		GetTravelScenario(),
		GetDeployScenario(),
		GetRecipeScenario(),
	}
}

// GetScenario finds a scenario by ID
func GetScenario(id string) (Scenario, bool) {
	for _, s := range GetScenarios() {
		if s.ID == id {
			return s, true
		}
	}
	return Scenario{}, false
}
