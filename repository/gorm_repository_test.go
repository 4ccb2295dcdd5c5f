package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"outreach/models"
)

func newMockRepository(t *testing.T) (*GormRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewGormRepository(db), mock
}

func TestCommitSend(t *testing.T) {
	sentAt := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	commit := SendCommit{
		LogID:                  7,
		CampaignID:             1,
		ContactID:              2,
		AccountID:              3,
		ExpectedTimesContacted: 0,
		SentAt:                 sentAt,
		HasUpcomingSequence:    true,
		AccountCursor:          CursorMove{From: 0, To: 1},
		ContactCursor:          CursorMove{From: 0, To: 1},
	}

	tests := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		wantErr   error
	}{
		{
			name: "applies every transition in one transaction",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(`UPDATE "contacts" SET .*times_contacted`).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(`UPDATE "campaigns" SET .*stats_sent`).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(`UPDATE "email_accounts" SET .*sent_today`).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(`UPDATE "campaigns" SET "next_email_account_to_use"`).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(`UPDATE "campaigns" SET "next_contact_to_use"`).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "lost compare-and-set rolls back",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(`UPDATE "contacts" SET .*times_contacted`).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectRollback()
			},
			wantErr: ErrConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepository(t)
			tt.setupMock(mock)

			err := repo.CommitSend(context.Background(), commit)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestClaimContact(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "claim granted", affected: 1, want: true},
		{name: "contact already moved or leased", affected: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepository(t)
			mock.ExpectBegin()
			mock.ExpectExec(`UPDATE "contacts" SET "claimed_until"`).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			mock.ExpectCommit()

			ok, err := repo.ClaimContact(context.Background(), 5, 1, now, now.Add(time.Minute))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestParkingContacts(t *testing.T) {
	t.Run("defer only while the contact has not moved on", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		until := time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "contacts" SET "schedule"=.*times_contacted = `).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, repo.DeferContact(context.Background(), 5, 1, until))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid addresses leave the due queue", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "contacts" SET "email_status"=`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, repo.MarkContactInvalid(context.Background(), 5))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDueContactsExcludesInvalid(t *testing.T) {
	repo, mock := newMockRepository(t)
	campaign := &models.Campaign{
		ContactIDs: []int64{1, 2},
		Sequences:  []models.SequenceStep{{Subject: "a"}},
	}
	mock.ExpectQuery(`SELECT \* FROM "contacts" WHERE .*email_status NOT IN`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email"}).AddRow(1, "a@b.io"))

	contacts, err := repo.DueContacts(context.Background(), campaign, time.Now(), 200)
	require.NoError(t, err)
	assert.Len(t, contacts, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateContactWritesHasUpcomingSequence(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "contacts" .*"has_upcoming_sequence".* RETURNING "id"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))
	mock.ExpectCommit()

	contact := &models.Contact{UserID: 1, Email: "reply@example.com", HasUpcomingSequence: false}
	require.NoError(t, repo.CreateContact(context.Background(), contact))
	assert.Equal(t, uint(9), contact.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLastSuccessfulSend_NotFound(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectQuery(`SELECT \* FROM "email_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	log, err := repo.LastSuccessfulSend(context.Background(), 1, 2, 0)
	assert.Nil(t, log)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLastSuccessfulSend_Found(t *testing.T) {
	repo, mock := newMockRepository(t)
	sentAt := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT \* FROM "email_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "campaign_id", "contact_id", "sequence_step", "status", "sent_at"}).
			AddRow(11, 1, 2, 0, "sent", sentAt))

	log, err := repo.LastSuccessfulSend(context.Background(), 1, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, uint(11), log.ID)
	assert.True(t, log.SentAt.Equal(sentAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementCampaignReplies(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "campaigns" SET "stats_replied"=stats_replied \+`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.IncrementCampaignReplies(context.Background(), 1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReceivedExists(t *testing.T) {
	receivedAt := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	t.Run("matches on message id", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectQuery(`SELECT count\(\*\) FROM "received_emails"`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		ok, err := repo.ReceivedExists(context.Background(), 3, "abc@mail", "a@b.com", "Hi", receivedAt)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("falls back to sender, subject and date", func(t *testing.T) {
		repo, mock := newMockRepository(t)
		mock.ExpectQuery(`SELECT count\(\*\) FROM "received_emails"`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery(`SELECT count\(\*\) FROM "received_emails"`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		ok, err := repo.ReceivedExists(context.Background(), 3, "abc@mail", "a@b.com", "Hi", receivedAt)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no message id and no subject", func(t *testing.T) {
		repo, mock := newMockRepository(t)

		ok, err := repo.ReceivedExists(context.Background(), 3, "", "a@b.com", "", receivedAt)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `50\% off\_now`, escapeLike("50% off_now"))
	assert.Equal(t, `a\\b`, escapeLike(`a\b`))
}
