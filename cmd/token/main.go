// Command token mints an access token for local testing, signed with the
// same JWT_SECRET the server verifies with.
//
//	go run ./cmd/token -user 42 -role COLLABORATOR -ttl 2h
package main

import (
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/raffle-reservation/internal/model"
	"github.com/iliyamo/raffle-reservation/internal/utils"
)

func main() {
	_ = godotenv.Load()
	user := flag.Uint64("user", 1, "user ID placed in the sub claim")
	roleName := flag.String("role", string(model.RoleCollaborator), "ADMIN, MEMBER or COLLABORATOR")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	log := logrus.New()
	role, ok := model.ParseRole(*roleName)
	if !ok {
		log.WithField("role", *roleName).Fatal("unknown role")
	}
	tok, err := utils.NewAccessToken(os.Getenv("JWT_SECRET"), *user, role, *ttl)
	if err != nil {
		log.WithError(err).Fatal("cannot sign token")
	}
	_ = json.NewEncoder(os.Stdout).Encode(tok)
}
