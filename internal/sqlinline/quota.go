package sqlinline

const QGrantGet = `--sql 9476e92c-e08b-496f-8526-70dba84eb21f
select id::text, user_id, type, amount, consumed, issued_at, expires_at, created_at, updated_at
from quota
where id = $1::uuid;
`

const QGrantInsert = `--sql 3e852497-0d33-496d-9261-4799d17f4ec1
insert into quota (user_id, type, amount, issued_at, expires_at)
values ($1, $2, $3, $4, $5)
returning id::text, consumed, created_at, updated_at;
`

const QGrantIssueDaily = `--sql 8758fc04-f75a-4cc0-b751-5ca3c55398cb
insert into quota (user_id, type, amount, issued_at, expires_at)
values ($1, 'daily_free', $2, $3, $4)
on conflict (user_id, issued_at) where type = 'daily_free' do nothing
returning id::text, user_id, type, amount, consumed, issued_at, expires_at, created_at, updated_at;
`

const QGrantGetDaily = `--sql 4bd6fe01-2a22-4ba1-9ab7-a339cfa89eba
select id::text, user_id, type, amount, consumed, issued_at, expires_at, created_at, updated_at
from quota
where user_id = $1 and type = 'daily_free' and issued_at = $2;
`

const QGrantListActive = `--sql d9a44af3-def9-46c8-8dca-d4df270aba1e
select id::text, user_id, type, amount, consumed, issued_at, expires_at, created_at, updated_at
from quota
where user_id = $1 and (expires_at is null or expires_at > $2)
order by expires_at asc nulls last, issued_at asc;
`

const QGrantListTouchedSince = `--sql 9dee07c2-47ce-4bdd-8d2d-d058ed22e93f
select quota_id::text
from quota_transaction
where created_at >= $1
group by quota_id
order by max(created_at) desc
limit $2;
`

const QGrantExists = `--sql aaa57cf0-d489-4efc-bf86-4b161466d992
select exists(select 1 from quota where id = $1::uuid);
`

// QLedgerConsume debits the grant and appends the consume entry in one
// statement. No row is returned when the balance is short or the grant expired.
const QLedgerConsume = `--sql f616b709-44da-4133-9aa9-042e7035127b
with debited as (
    update quota
    set consumed = consumed + $2::int, updated_at = now()
    where id = $1::uuid
      and amount - consumed >= $2::int
      and (expires_at is null or expires_at > now())
    returning id, user_id, amount - consumed + $2::int as balance_before, amount - consumed as balance_after
)
insert into quota_transaction (user_id, quota_id, type, amount, balance_before, balance_after, note)
select user_id, id, 'consume', -$2::int, balance_before, balance_after, $3
from debited
returning id::text, user_id, quota_id::text, type, amount, balance_before, balance_after,
          related_transaction_id::text, note, created_at;
`

// QLedgerRefund credits the grant and appends the linked refund entry in one
// statement. A concurrent duplicate trips quota_transaction_refund_once.
const QLedgerRefund = `--sql cdf32643-c3c1-478a-a7a2-e2b9e3e8f87c
with src as (
    select t.id, t.user_id, t.quota_id, -t.amount as refund, q.amount as grant_amount, q.consumed as old_consumed
    from quota_transaction t
    join quota q on q.id = t.quota_id
    where t.id = $1::uuid
      and t.type = 'consume'
      and not exists (
          select 1 from quota_transaction r
          where r.related_transaction_id = t.id and r.type = 'refund'
      )
    for update of q
),
credited as (
    update quota q
    set consumed = greatest(src.old_consumed - src.refund, 0), updated_at = now()
    from src
    where q.id = src.quota_id
    returning q.id
)
insert into quota_transaction (user_id, quota_id, type, amount, balance_before, balance_after, related_transaction_id, note)
select src.user_id, src.quota_id, 'refund', src.refund,
       src.grant_amount - src.old_consumed,
       src.grant_amount - greatest(src.old_consumed - src.refund, 0),
       src.id, $2
from src
join credited on credited.id = src.quota_id
returning id::text, user_id, quota_id::text, type, amount, balance_before, balance_after,
          related_transaction_id::text, note, created_at;
`

const QLedgerRefundState = `--sql 6a824553-c846-4b43-b586-10204c927a42
select
    exists(select 1 from quota_transaction where id = $1::uuid and type = 'consume'),
    exists(select 1 from quota_transaction where related_transaction_id = $1::uuid and type = 'refund');
`

const QLedgerFindRefund = `--sql 45794879-99a3-443f-919b-501ea5919627
select id::text, user_id, quota_id::text, type, amount, balance_before, balance_after,
       related_transaction_id::text, note, created_at
from quota_transaction
where related_transaction_id = $1::uuid and type = 'refund';
`

const QLedgerGetEntry = `--sql e44fb7ba-004b-4c6c-a96e-c6cbe6e47c06
select id::text, user_id, quota_id::text, type, amount, balance_before, balance_after,
       related_transaction_id::text, note, created_at
from quota_transaction
where id = $1::uuid;
`

const QLedgerListEntries = `--sql 0a01a23f-9281-4a76-9104-854c36caa0de
select id::text, user_id, quota_id::text, type, amount, balance_before, balance_after,
       related_transaction_id::text, note, created_at
from quota_transaction
where quota_id = $1::uuid
order by created_at asc, id asc;
`
