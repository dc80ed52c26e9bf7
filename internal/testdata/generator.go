package testdata

import (
	"fmt"
	"math/rand"

	"github.com/jask/splitpay/internal/config"
)

// Snapshot returns a small fixed bank: four users on different plans and
// accounts in three currencies. 1 EUR = 5 RON and 1 USD = 0.8 EUR, so
// 1 USD = 4 RON through the closure.
func Snapshot() config.Snapshot {
	return config.Snapshot{
		Rates: []config.RateEntry{
			{From: "EUR", To: "RON", Rate: "5"},
			{From: "USD", To: "EUR", Rate: "0.8"},
		},
		Users: []config.UserEntry{
			{Email: "ana@bank.test", FirstName: "Ana", LastName: "Pop", Occupation: "student"},
			{Email: "dan@bank.test", FirstName: "Dan", LastName: "Ionescu", Occupation: "engineer"},
			{Email: "ioana@bank.test", FirstName: "Ioana", LastName: "Marin", Occupation: "engineer", Plan: "silver"},
			{Email: "mihai@bank.test", FirstName: "Mihai", LastName: "Stan", Occupation: "doctor", Plan: "gold"},
		},
		Accounts: []config.AccountEntry{
			{IBAN: "RO01SPLT0001", Owner: "ana@bank.test", Currency: "RON", Balance: "1000"},
			{IBAN: "RO02SPLT0002", Owner: "dan@bank.test", Currency: "RON", Balance: "1000"},
			{IBAN: "RO03SPLT0003", Owner: "ioana@bank.test", Currency: "EUR", Type: "savings", Balance: "500", InterestRate: "0.05"},
			{IBAN: "RO04SPLT0004", Owner: "mihai@bank.test", Currency: "USD", Type: "business", Balance: "200", Employees: []string{"ana@bank.test"}},
			{IBAN: "RO05SPLT0005", Owner: "dan@bank.test", Currency: "EUR", Balance: "50", MinBalance: "10"},
		},
	}
}

// Script exercises every operation against Snapshot: a committed equal
// split, a rejected one, one aborted for funds, a custom split and the
// ledger operations.
const Script = `# timestamp,command,args
1,split,equal,300,RON,RO01SPLT0001 RO02SPLT0002 RO03SPLT0003
2,accept,ana@bank.test
3,accept,dan@bank.test
4,accept,ioana@bank.test
5,split,equal,40,RON,RO01SPLT0001 RO04SPLT0004
6,reject,mihai@bank.test
7,split,custom,300,EUR,RO05SPLT0005 RO02SPLT0002,200 100
8,accept,dan@bank.test
9,addFunds,RO05SPLT0005,25
10,setMinBalance,RO01SPLT0001,100
11,addInterest,RO03SPLT0003
12,changeInterestRate,RO03SPLT0003,0.1
13,convert,10,USD,RON
`

// Generate builds a larger random bank for load tests: users*2 RON accounts,
// two per user, each funded with 100..1099 RON.
func Generate(r *rand.Rand, users int) config.Snapshot {
	snap := config.Snapshot{
		Rates: []config.RateEntry{{From: "EUR", To: "RON", Rate: "5"}},
	}
	occupations := []string{"student", "engineer", "doctor", "nurse"}
	for i := 0; i < users; i++ {
		email := fmt.Sprintf("user%04d@bank.test", i)
		snap.Users = append(snap.Users, config.UserEntry{
			Email:      email,
			FirstName:  fmt.Sprintf("First%d", i),
			LastName:   fmt.Sprintf("Last%d", i),
			Occupation: occupations[r.Intn(len(occupations))],
		})
		for j := 0; j < 2; j++ {
			snap.Accounts = append(snap.Accounts, config.AccountEntry{
				IBAN:     IBAN(i, j),
				Owner:    email,
				Currency: "RON",
				Balance:  fmt.Sprintf("%d", 100+r.Intn(1000)),
			})
		}
	}
	return snap
}

// IBAN is the account id Generate assigns to account j of user i.
func IBAN(user, j int) string {
	return fmt.Sprintf("RO%02dGEN%06d", j, user)
}
