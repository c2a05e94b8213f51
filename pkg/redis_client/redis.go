package redis_client

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/util"
)

var Client *redis.Client

const defaultConnectionAddress = "localhost:6379"
const defaultConnectionPassword = ""
const defaultDatabase = 0

// Configured reports whether a redis address was given at all; redis is
// optional and only backs the feed payload persistence.
func Configured() bool {
	return util.GetEnvironmentVariables()["MESDEPARTS_REDIS_ADDRESS"] != ""
}

func Connect() error {
	address := defaultConnectionAddress
	password := defaultConnectionPassword
	database := defaultDatabase

	env := util.GetEnvironmentVariables()

	if env["MESDEPARTS_REDIS_ADDRESS"] != "" {
		address = env["MESDEPARTS_REDIS_ADDRESS"]
	}

	if env["MESDEPARTS_REDIS_PASSWORD"] != "" {
		password = env["MESDEPARTS_REDIS_PASSWORD"]
	}

	if env["MESDEPARTS_REDIS_DATABASE"] != "" {
		if n, err := strconv.Atoi(env["MESDEPARTS_REDIS_DATABASE"]); err == nil {
			database = n
		} else {
			return err
		}
	}

	Client = redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       database,
	})

	return Client.Ping(context.Background()).Err()
}
