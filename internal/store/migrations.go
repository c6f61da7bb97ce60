package store

const schema = `
CREATE TABLE IF NOT EXISTS videos (
    id            TEXT PRIMARY KEY,
    channel_id    TEXT NOT NULL,
    channel_title TEXT NOT NULL DEFAULT '',
    title         TEXT NOT NULL,
    published_at  DATETIME NOT NULL,
    views         INTEGER NOT NULL DEFAULT 0,
    likes         INTEGER NOT NULL DEFAULT 0,
    comments      INTEGER NOT NULL DEFAULT 0,
    captions      TEXT NOT NULL DEFAULT '',
    collected_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_videos_channel ON videos(channel_id);
CREATE INDEX IF NOT EXISTS idx_videos_published_at ON videos(published_at);

CREATE TABLE IF NOT EXISTS suggestions (
    id                 TEXT PRIMARY KEY,
    batch_id           TEXT NOT NULL DEFAULT '',
    topic              TEXT NOT NULL,
    rationale          TEXT NOT NULL DEFAULT '',
    keywords           TEXT NOT NULL DEFAULT '[]',
    reference_channels TEXT NOT NULL DEFAULT '[]',
    origin_channel     TEXT NOT NULL DEFAULT '',
    estimated_appeal   TEXT NOT NULL DEFAULT 'medium',
    created_at         DATETIME NOT NULL,
    matched            BOOLEAN NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_suggestions_matched ON suggestions(matched);
CREATE INDEX IF NOT EXISTS idx_suggestions_batch ON suggestions(batch_id);

CREATE TABLE IF NOT EXISTS matches (
    id                TEXT PRIMARY KEY,
    suggestion_id     TEXT NOT NULL UNIQUE REFERENCES suggestions(id),
    video_id          TEXT NOT NULL UNIQUE REFERENCES videos(id),
    channel_id        TEXT NOT NULL,
    video_title       TEXT NOT NULL DEFAULT '',
    keywords          TEXT NOT NULL DEFAULT '[]',
    similarity_score  REAL NOT NULL,
    views             INTEGER NOT NULL DEFAULT 0,
    comments          INTEGER NOT NULL DEFAULT 0,
    avg_views         REAL NOT NULL DEFAULT 0,
    performance_score REAL NOT NULL,
    performance_tier  TEXT NOT NULL,
    created_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_matches_created_at ON matches(created_at);

CREATE TABLE IF NOT EXISTS insights (
    id                   TEXT PRIMARY KEY,
    pattern              TEXT NOT NULL UNIQUE,
    insight_text         TEXT NOT NULL,
    supporting_match_ids TEXT NOT NULL DEFAULT '[]',
    created_at           DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_insights_created_at ON insights(created_at);
`
