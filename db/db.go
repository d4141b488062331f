package db

import (
	"errors"

	"github.com/saeki-dev/anifight/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomFull          = errors.New("room is full")
	ErrTemplateNotFound  = errors.New("template not found")
	ErrInvalidTransition = errors.New("invalid room status transition")
	ErrCodeExhausted     = errors.New("could not allocate a unique room code")
)

type Config struct {
	DSN string `json:"dsn"`
}

type db struct {
	DB *gorm.DB
}

type Client struct {
	Rooms   *rooms
	Actions *actions
	Content *content
}

func NewClient(cfg Config) *Client {
	gdb, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		panic(err)
	}
	if err := gdb.AutoMigrate(
		&model.Room{},
		&model.GameAction{},
		&model.Anime{},
		&model.Character{},
		&model.GameTemplate{},
	); err != nil {
		panic(err)
	}
	c := db{DB: gdb}
	return &Client{
		Rooms:   (*rooms)(&c),
		Actions: (*actions)(&c),
		Content: (*content)(&c),
	}
}
