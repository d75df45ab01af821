package sqlinline

const QTaskInsert = `--sql 0e8575c1-4ee1-495c-b1ae-bc76318d2cf9
insert into media_generation_task (
    task_id, share_id, user_id, task_type, provider, provider_request_id, model,
    parameters, consume_transaction_id, is_private
)
values ($1::uuid, $2, $3, $4, $5, $6, $7, coalesce($8::jsonb, '{}'::jsonb), $9::uuid, $10)
returning id::text, status, progress, started_at, created_at, updated_at;
`

const QTaskGetForWebhook = `--sql 7ac35512-b41d-4371-801b-95603ee838ec
select id::text, task_id::text, share_id, user_id, task_type, provider, provider_request_id, model,
       status, progress, parameters, results, consume_transaction_id::text, refund_transaction_id::text,
       error, is_nsfw, nsfw_details, started_at, completed_at, duration_ms, claimed_at, claim_payload,
       is_private, deleted_at, created_at, updated_at
from media_generation_task
where task_id = $1::uuid and provider = $2;
`

const QTaskGetPublic = `--sql 0f972a03-3c0a-4a77-9381-fc11b8eaf014
select t.id::text, t.task_id::text, t.share_id, t.user_id, t.task_type, t.provider, t.provider_request_id, t.model,
       t.status, t.progress, t.parameters, t.results, t.consume_transaction_id::text, t.refund_transaction_id::text,
       t.error, t.is_nsfw, t.nsfw_details, t.started_at, t.completed_at, t.duration_ms, t.claimed_at, t.claim_payload,
       t.is_private, t.deleted_at, t.created_at, t.updated_at,
       coalesce(abs(c.amount), 0)
from media_generation_task t
left join quota_transaction c on c.id = t.consume_transaction_id
where t.task_id = $1::uuid and t.deleted_at is null;
`

const QTaskClaim = `--sql 7560a383-e531-4015-8a24-cd976d1ca8d0
update media_generation_task
set status = 'processing', claimed_at = now(), claim_payload = $3::jsonb, updated_at = now()
where task_id = $1::uuid and status = $2 and claimed_at is null;
`

const QTaskMarkProcessing = `--sql 3e8ca9aa-dfd4-4c1e-8725-9dc1ed53cd7f
update media_generation_task
set status = 'processing', progress = greatest(progress, $2::int), updated_at = now()
where task_id = $1::uuid and status in ('pending', 'processing') and claimed_at is null;
`

const QTaskCommitCompleted = `--sql e263b9e4-093e-4f27-8890-f1eeefecbba3
update media_generation_task
set status = 'completed', progress = 100, results = $2::jsonb, completed_at = $3,
    duration_ms = $4, updated_at = now()
where task_id = $1::uuid and status = 'processing' and claimed_at is not null;
`

const QTaskCommitCompletedMinimal = `--sql 7ac36d59-1ef7-4e53-82c9-cd1a45d0c13c
update media_generation_task
set status = 'completed', completed_at = $2, updated_at = now()
where task_id = $1::uuid and status = 'processing' and claimed_at is not null;
`

const QTaskCommitFailed = `--sql 35685a02-868d-4792-9d11-88ee627d918f
update media_generation_task
set status = 'failed', error = $2::jsonb, refund_transaction_id = $3::uuid, completed_at = $4,
    duration_ms = $5, updated_at = now()
where task_id = $1::uuid and status = 'processing' and claimed_at is not null;
`

const QTaskUpdateNSFW = `--sql 44ab0a03-cd1c-40bb-be80-601f2053b89a
update media_generation_task
set is_nsfw = $2, nsfw_details = $3::jsonb, updated_at = now()
where task_id = $1::uuid;
`

const QTaskAttachRefund = `--sql 865ddde1-3edd-45ea-b9fb-5ba7ea4586d9
update media_generation_task
set refund_transaction_id = $2::uuid, updated_at = now()
where task_id = $1::uuid and status = 'failed' and refund_transaction_id is null;
`

const QTaskListUnrefundedFailures = `--sql 8732dc47-5130-44d3-9cf1-463a9d4f5dc7
select id::text, task_id::text, share_id, user_id, task_type, provider, provider_request_id, model,
       status, progress, parameters, results, consume_transaction_id::text, refund_transaction_id::text,
       error, is_nsfw, nsfw_details, started_at, completed_at, duration_ms, claimed_at, claim_payload,
       is_private, deleted_at, created_at, updated_at
from media_generation_task
where status = 'failed' and consume_transaction_id is not null and refund_transaction_id is null
  and refund_attempts < $2
order by refund_attempted_at asc nulls first, updated_at asc
limit $1;
`

const QTaskRecordRefundAttempt = `--sql 461f8102-1195-4c3d-8e79-d2f9f42ff85f
update media_generation_task
set refund_attempts = refund_attempts + 1, refund_attempted_at = now()
where task_id = $1::uuid and status = 'failed' and refund_transaction_id is null;
`

const QTaskListStaleClaims = `--sql 4c4b15a8-8efb-4629-8231-3912dfc6adfa
select id::text, task_id::text, share_id, user_id, task_type, provider, provider_request_id, model,
       status, progress, parameters, results, consume_transaction_id::text, refund_transaction_id::text,
       error, is_nsfw, nsfw_details, started_at, completed_at, duration_ms, claimed_at, claim_payload,
       is_private, deleted_at, created_at, updated_at
from media_generation_task
where status = 'processing' and claimed_at is not null and claimed_at < $1
order by claimed_at asc
limit $2;
`

const QTaskReclaim = `--sql 087809a2-66f6-4fce-a653-3a0a7383b883
update media_generation_task
set claimed_at = now(), updated_at = now()
where task_id = $1::uuid and status = 'processing' and claimed_at = $2;
`

const QTaskSoftDelete = `--sql a4fc3567-5619-4bc1-8d17-735fa5ef7b34
update media_generation_task
set deleted_at = now(), updated_at = now()
where task_id = $1::uuid and user_id = $2 and deleted_at is null;
`

const QTaskGetByShareID = `--sql 74173474-8b0a-49f4-bdf9-ddaf693e12eb
select id::text, task_id::text, share_id, user_id, task_type, provider, provider_request_id, model,
       status, progress, parameters, results, consume_transaction_id::text, refund_transaction_id::text,
       error, is_nsfw, nsfw_details, started_at, completed_at, duration_ms, claimed_at, claim_payload,
       is_private, deleted_at, created_at, updated_at
from media_generation_task
where share_id = $1 and deleted_at is null;
`

const QTaskListByUser = `--sql 6bb022af-70b0-4b9e-8c73-12ea5b507c4e
select id::text, task_id::text, share_id, user_id, task_type, provider, provider_request_id, model,
       status, progress, parameters, results, consume_transaction_id::text, refund_transaction_id::text,
       error, is_nsfw, nsfw_details, started_at, completed_at, duration_ms, claimed_at, claim_payload,
       is_private, deleted_at, created_at, updated_at
from media_generation_task
where user_id = $1 and deleted_at is null
  and (coalesce(cardinality($2::text[]), 0) = 0 or status = any($2::text[]))
  and (coalesce(cardinality($3::text[]), 0) = 0 or task_type = any($3::text[]))
  and (coalesce(cardinality($4::text[]), 0) = 0 or model = any($4::text[]))
  and ($5::timestamptz is null or created_at >= $5::timestamptz)
order by created_at desc
limit $6 offset $7;
`

const QTaskCountByUser = `--sql cd9c99e0-3dab-478c-a392-5e05fbdca4f3
select count(*)
from media_generation_task
where user_id = $1 and deleted_at is null
  and (coalesce(cardinality($2::text[]), 0) = 0 or status = any($2::text[]))
  and (coalesce(cardinality($3::text[]), 0) = 0 or task_type = any($3::text[]))
  and (coalesce(cardinality($4::text[]), 0) = 0 or model = any($4::text[]))
  and ($5::timestamptz is null or created_at >= $5::timestamptz);
`
