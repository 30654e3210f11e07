// Command vote provides CLI tools for interacting with a deployed tallying
// network.
//
// # Commands
//
// create: Ask the coordinator to set up a new election.
//
//	vote create --coordinator=http://localhost:8082 --question="Ship it?" --voters=4
//
// cast: Split a vote into shares and deliver them to the node services.
//
//	vote cast --coordinator=http://localhost:8082 --registry=http://localhost:8080 \
//	    --election=<id> --value=1
//
// close: Finalize an election and reveal the tally.
//
//	vote close --coordinator=http://localhost:8082 --election=<id>
//
// status: Display an election's public parameters and state.
//
//	vote status --coordinator=http://localhost:8082 --election=<id>
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/choosek/tinyvote/cmd/common"
	"github.com/choosek/tinyvote/protocol"
	"github.com/choosek/tinyvote/services"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "create":
		err = runCreate(args)
	case "cast":
		err = runCast(args)
	case "close":
		err = runClose(args)
	case "status":
		err = runStatus(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`vote - CLI tools for the tallying network

Usage:
  vote <command> [options]

Commands:
  create    Set up a new election
  cast      Cast a vote
  close     Finalize an election and reveal the tally
  status    Display election state

Run 'vote <command> --help' for command-specific options.`)
}

// --- Create Command ---

func runCreate(args []string) error {
	var (
		coordinatorURL string
		question       string
		domainKind     string
		domainMax      uint64
		weight         uint64
		voters         int
		nodes          string
	)

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--coordinator", "-c":
			i++
			if i < len(args) {
				coordinatorURL = args[i]
			}
		case "--question", "-q":
			i++
			if i < len(args) {
				question = args[i]
			}
		case "--domain":
			i++
			if i < len(args) {
				domainKind = args[i]
			}
		case "--max":
			i++
			if i < len(args) {
				fmt.Sscanf(args[i], "%d", &domainMax)
			}
		case "--weight", "-w":
			i++
			if i < len(args) {
				fmt.Sscanf(args[i], "%d", &weight)
			}
		case "--voters", "-v":
			i++
			if i < len(args) {
				fmt.Sscanf(args[i], "%d", &voters)
			}
		case "--nodes", "-n":
			i++
			if i < len(args) {
				nodes = args[i]
			}
		case "--help", "-h":
			printCreateHelp()
			return nil
		}
	}

	if coordinatorURL == "" {
		coordinatorURL = "http://localhost:8082"
	}
	if voters == 0 {
		return fmt.Errorf("--voters is required and must be > 0")
	}

	domain := protocol.VoteDomain{Kind: protocol.BinaryDomain}
	if domainKind == "range" {
		domain = protocol.VoteDomain{Kind: protocol.RangeDomain, Max: domainMax}
	}

	createReq := &services.CreateElectionRequest{
		Question:       question,
		Domain:         domain,
		Weight:         weight,
		ExpectedVoters: voters,
	}
	if nodes != "" {
		for _, id := range strings.Split(nodes, ",") {
			createReq.Nodes = append(createReq.Nodes, protocol.NodeID(strings.TrimSpace(id)))
		}
	}

	election, err := postElection(coordinatorURL+"/elections", createReq)
	if err != nil {
		return err
	}

	fmt.Printf("Election created: %s\n", election.Request.Config.InstanceID)
	fmt.Printf("Nodes: %v\n", election.Request.Config.Nodes)
	fmt.Printf("Expected voters: %d\n", election.Request.Config.ExpectedVoters)
	return nil
}

func printCreateHelp() {
	fmt.Println(`vote create - Set up a new election

Usage:
  vote create --coordinator=<url> --voters=<n> [options]

Options:
  --coordinator, -c   Coordinator URL (default: http://localhost:8082)
  --question, -q      Ballot question text
  --domain            Vote domain: binary or range (default: binary)
  --max               Maximum value for range domains
  --weight, -w        Per-vote weight multiplier (default: 1)
  --voters, -v        Expected number of voters (required)
  --nodes, -n         Comma-separated node ids (default: all registered)

Example:
  vote create -c http://localhost:8082 -q "Ship it?" -v 4`)
}

// --- Cast Command ---

func runCast(args []string) error {
	var (
		coordinatorURL string
		registryURL    string
		electionID     string
		value          uint64
		valueSet       bool
		signingKeyHex  string
	)

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--coordinator", "-c":
			i++
			if i < len(args) {
				coordinatorURL = args[i]
			}
		case "--registry", "-r":
			i++
			if i < len(args) {
				registryURL = args[i]
			}
		case "--election", "-e":
			i++
			if i < len(args) {
				electionID = args[i]
			}
		case "--value":
			i++
			if i < len(args) {
				fmt.Sscanf(args[i], "%d", &value)
				valueSet = true
			}
		case "--signing-key":
			i++
			if i < len(args) {
				signingKeyHex = args[i]
			}
		case "--help", "-h":
			printCastHelp()
			return nil
		}
	}

	if coordinatorURL == "" {
		coordinatorURL = "http://localhost:8082"
	}
	if registryURL == "" {
		return fmt.Errorf("--registry is required")
	}
	if electionID == "" {
		return fmt.Errorf("--election is required")
	}
	if !valueSet {
		return fmt.Errorf("--value is required")
	}

	signingKey, err := common.LoadOrGenerateSigningKey(signingKeyHex)
	if err != nil {
		return fmt.Errorf("signing key: %w", err)
	}

	voter, err := services.NewVoterClient(coordinatorURL, registryURL, signingKey)
	if err != nil {
		return err
	}

	if err := voter.CastVote(electionID, value); err != nil {
		return err
	}

	pubKey, _ := signingKey.PublicKey()
	fmt.Printf("Vote cast as %s\n", pubKey.String())
	return nil
}

func printCastHelp() {
	fmt.Println(`vote cast - Cast a vote

The vote is split into one share per node; each node only ever sees its own
share, never the vote itself.

Usage:
  vote cast --registry=<url> --election=<id> --value=<n> [options]

Options:
  --coordinator, -c   Coordinator URL (default: http://localhost:8082)
  --registry, -r      Registry URL (required)
  --election, -e      Election id (required)
  --value             Vote value (required)
  --signing-key       Ed25519 signing key (hex, generates if empty)

Example:
  vote cast -r http://localhost:8080 -e 3f2a... --value=1`)
}

// --- Close Command ---

func runClose(args []string) error {
	coordinatorURL, electionID, err := parseElectionArgs(args, printCloseHelp)
	if err != nil {
		return err
	}
	if coordinatorURL == "" {
		return nil // help was printed
	}
	if electionID == "" {
		return fmt.Errorf("--election is required")
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	resp, err := httpClient.Post(coordinatorURL+"/elections/"+electionID+"/close", "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("close failed (%d): %s", resp.StatusCode, string(body))
	}

	var tallyResp services.TallyResponse
	if err := json.NewDecoder(resp.Body).Decode(&tallyResp); err != nil {
		return err
	}

	printTally(&tallyResp)
	return nil
}

func printCloseHelp() {
	fmt.Println(`vote close - Finalize an election and reveal the tally

Usage:
  vote close --coordinator=<url> --election=<id>

Options:
  --coordinator, -c   Coordinator URL (default: http://localhost:8082)
  --election, -e      Election id (required)`)
}

// --- Status Command ---

func runStatus(args []string) error {
	coordinatorURL, electionID, err := parseElectionArgs(args, printStatusHelp)
	if err != nil {
		return err
	}
	if coordinatorURL == "" {
		return nil // help was printed
	}
	if electionID == "" {
		return fmt.Errorf("--election is required")
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	resp, err := httpClient.Get(coordinatorURL + "/elections/" + electionID)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status fetch failed (%d): %s", resp.StatusCode, string(body))
	}

	var election services.ElectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&election); err != nil {
		return err
	}

	fmt.Printf("Election: %s\n", election.Request.Config.InstanceID)
	if election.Question != "" {
		fmt.Printf("Question: %s\n", election.Question)
	}
	fmt.Printf("State: %s\n", election.State)
	fmt.Printf("Domain: %s", election.Request.Config.Domain.Kind)
	if election.Request.Config.Domain.Kind == protocol.RangeDomain {
		fmt.Printf(" [0, %d]", election.Request.Config.Domain.Max)
	}
	fmt.Println()
	fmt.Printf("Nodes: %v\n", election.Request.Config.Nodes)
	fmt.Printf("Expected voters: %d\n", election.Request.Config.ExpectedVoters)

	if election.State == "revealed" {
		tallyResp, err := getTally(httpClient, coordinatorURL, electionID)
		if err == nil {
			printTally(tallyResp)
		}
	}
	return nil
}

func printStatusHelp() {
	fmt.Println(`vote status - Display election state

Usage:
  vote status --coordinator=<url> --election=<id>

Options:
  --coordinator, -c   Coordinator URL (default: http://localhost:8082)
  --election, -e      Election id (required)`)
}

// --- Shared Utilities ---

func parseElectionArgs(args []string, printHelp func()) (coordinatorURL, electionID string, err error) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--coordinator", "-c":
			i++
			if i < len(args) {
				coordinatorURL = args[i]
			}
		case "--election", "-e":
			i++
			if i < len(args) {
				electionID = args[i]
			}
		case "--help", "-h":
			printHelp()
			return "", "", nil
		}
	}
	if coordinatorURL == "" {
		coordinatorURL = "http://localhost:8082"
	}
	return coordinatorURL, electionID, nil
}

func postElection(url string, createReq *services.CreateElectionRequest) (*services.ElectionResponse, error) {
	body, err := json.Marshal(createReq)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	resp, err := httpClient.Post(url, "application/json", strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("create failed (%d): %s", resp.StatusCode, string(respBody))
	}

	var election services.ElectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&election); err != nil {
		return nil, err
	}
	return &election, nil
}

func getTally(httpClient *http.Client, coordinatorURL, electionID string) (*services.TallyResponse, error) {
	resp, err := httpClient.Get(coordinatorURL + "/elections/" + electionID + "/tally")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var tallyResp services.TallyResponse
	if err := json.NewDecoder(resp.Body).Decode(&tallyResp); err != nil {
		return nil, err
	}
	return &tallyResp, nil
}

func printTally(tallyResp *services.TallyResponse) {
	if tallyResp.Tally == nil {
		fmt.Println("No tally available")
		return
	}
	if tallyResp.Question != "" {
		fmt.Printf("Question: %s\n", tallyResp.Question)
	}
	fmt.Printf("Tally: %d (from %d voters)\n", tallyResp.Tally.Sum, tallyResp.Tally.Voters)
}
